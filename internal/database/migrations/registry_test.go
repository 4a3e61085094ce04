package migrations

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/grillmaster/grillmaster/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return db
}

func TestAllMigrations_VersionsUniqueAndOrdered(t *testing.T) {
	migrations := AllMigrations()
	require.NotEmpty(t, migrations)

	seen := make(map[string]bool)
	prev := ""
	for _, m := range migrations {
		assert.False(t, seen[m.Version], "duplicate version %s", m.Version)
		seen[m.Version] = true
		assert.Greater(t, m.Version, prev, "versions must be ascending")
		prev = m.Version

		assert.NotEmpty(t, m.Description)
		assert.NotNil(t, m.Up)
	}
}

func TestMigrator_UpCreatesSchema(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())
	require.NoError(t, migrator.Up(ctx))

	for _, table := range []string{"projects", "tasks", "task_step_states", "task_events", "watch_progress"} {
		assert.True(t, db.Migrator().HasTable(table), "table %s should exist", table)
	}

	// Unique index on (source, source_video_id) is enforced.
	first := &models.Project{Source: models.SourceBilibili, SourceVideoID: "BV18KBJBeEmV", OriginalInput: "BV18KBJBeEmV"}
	require.NoError(t, db.Create(first).Error)
	dup := &models.Project{Source: models.SourceBilibili, SourceVideoID: "BV18KBJBeEmV", OriginalInput: "again"}
	assert.Error(t, db.Create(dup).Error)
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())
	require.NoError(t, migrator.Up(ctx))
	require.NoError(t, migrator.Up(ctx))

	statuses, err := migrator.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Applied, "migration %s should be applied", s.Version)
		assert.NotNil(t, s.AppliedAt)
	}
}

func TestMigrator_DownDropsSchema(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())
	require.NoError(t, migrator.Up(ctx))
	require.NoError(t, migrator.Down(ctx))

	assert.False(t, db.Migrator().HasTable("projects"))

	pending, err := migrator.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
