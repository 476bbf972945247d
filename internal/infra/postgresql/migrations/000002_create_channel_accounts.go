package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notify-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createChannelAccountsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_channel_accounts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.AccountModel{}); err != nil {
				return err
			}
			// At most one default account per channel.
			return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_channel_accounts_default ON channel_accounts (channel) WHERE is_default`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.AccountModel{})
		},
	}
}
