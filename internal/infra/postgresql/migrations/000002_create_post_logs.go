package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/social-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createPostLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_post_logs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PostLogModel{}); err != nil {
				return err
			}
			if err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_post_logs_post_created ON post_logs (post_id, created_at)`).Error; err != nil {
				return err
			}

			// SQLite cannot add a foreign key to an existing table; the
			// repository deletes logs explicitly in the same transaction.
			if tx.Dialector.Name() != "postgres" {
				return nil
			}
			if tx.Migrator().HasConstraint(&repository.PostModel{}, "Logs") {
				return nil
			}
			return tx.Migrator().CreateConstraint(&repository.PostModel{}, "Logs")
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PostLogModel{})
		},
	}
}
