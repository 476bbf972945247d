package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notify-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createDeliveryLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_delivery_logs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryLogModel{}); err != nil {
				return err
			}
			statements := []string{
				`CREATE INDEX IF NOT EXISTS idx_delivery_logs_message_id ON delivery_logs (message_id, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_logs_task_id ON delivery_logs (task_id)`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_logs_terminal ON delivery_logs (channel, created_at) WHERE terminal`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryLogModel{})
		},
	}
}
