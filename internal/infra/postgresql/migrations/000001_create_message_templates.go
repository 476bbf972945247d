package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notify-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createMessageTemplatesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_message_templates",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.TemplateModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TemplateModel{})
		},
	}
}
