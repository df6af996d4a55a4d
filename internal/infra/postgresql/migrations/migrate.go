package migrations

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Migrate applies the posts schema. Each migration runs in its own
// transaction so a failed index or constraint leaves nothing half-applied.
func Migrate(db *gorm.DB) error {
	opts := *gormigrate.DefaultOptions
	opts.UseTransaction = true

	m := gormigrate.New(db, &opts, []*gormigrate.Migration{
		createPostsTable(),
		createPostLogsTable(),
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
