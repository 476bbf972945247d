package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notify-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createScheduledSendsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_scheduled_sends",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ScheduledSendModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_scheduled_sends_active ON scheduled_sends (id) WHERE active`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ScheduledSendModel{})
		},
	}
}
