package migrations

import (
	"testing"

	"github.com/google/uuid"
	"github.com/kursadbilgin/social-dispatch/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMigrate_CreatesTablesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))

	assert.True(t, db.Migrator().HasTable(&repository.PostModel{}))
	assert.True(t, db.Migrator().HasTable(&repository.PostLogModel{}))
	assert.True(t, db.Migrator().HasIndex(&repository.PostModel{}, "idx_posts_status_created"))
	assert.True(t, db.Migrator().HasIndex(&repository.PostLogModel{}, "idx_post_logs_post_created"))
}
