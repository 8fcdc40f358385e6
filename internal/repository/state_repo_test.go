package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dandriscoll/devlogs/internal/config"
	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "state.db"),
		AutoMigrate: true,
	}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestTailCheckpointRoundTrip(t *testing.T) {
	repo := NewTailCheckpointRepository(openTestDB(t))
	ctx := context.Background()

	cp, err := repo.Get(ctx, "ci", "devlogs-0001")
	require.NoError(t, err)
	assert.Nil(t, cp)

	first := domain.Cursor{float64(1000), "a"}
	require.NoError(t, repo.Save(ctx, "ci", "devlogs-0001", first))
	second := domain.Cursor{float64(2000), "b"}
	require.NoError(t, repo.Save(ctx, "ci", "devlogs-0001", second))

	cp, err = repo.Get(ctx, "ci", "devlogs-0001")
	require.NoError(t, err)
	require.NotNil(t, cp)

	cursor, err := domain.ParseCursor(cp.Cursor)
	require.NoError(t, err)
	assert.Equal(t, second, cursor)

	other, err := repo.Get(ctx, "ci", "devlogs-0002")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestRollupRunHistory(t *testing.T) {
	repo := NewRollupRunRepository(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-1", "run-2", "run-3"} {
		run := &domain.RollupRun{
			ID:        id,
			Index:     "devlogs-0001",
			Status:    domain.RunStatusRunning,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(ctx, run))
		run.Status = domain.RunStatusCompleted
		run.Children = i * 10
		require.NoError(t, repo.Update(ctx, run))
	}

	runs, err := repo.ListRecent(ctx, "devlogs-0001", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, 20, runs[0].Children)
	assert.Equal(t, domain.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, "run-2", runs[1].ID)
}

func TestInitDBDriverSelection(t *testing.T) {
	t.Run("postgres without dsn", func(t *testing.T) {
		_, err := InitDB(&config.DatabaseConfig{Driver: "postgres"}, logger.Discard())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DEVLOGS_DB_DSN")
	})

	t.Run("unknown driver falls back to sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "state.db")
		db, err := InitDB(&config.DatabaseConfig{Driver: "mysql", Path: path, AutoMigrate: true}, logger.Discard())
		require.NoError(t, err)
		assert.Equal(t, "sqlite", db.Dialector.Name())
		assert.True(t, db.Migrator().HasTable(&domain.TailCheckpoint{}))
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
}
