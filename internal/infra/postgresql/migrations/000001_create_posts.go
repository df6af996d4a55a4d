package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/social-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createPostsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_posts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PostModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts (created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_posts_status_created ON posts (status, created_at)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PostModel{})
		},
	}
}
