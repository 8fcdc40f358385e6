package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dandriscoll/devlogs/internal/config"
	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// stateModels are the tables owned by the local state database.
var stateModels = []any{&domain.RollupRun{}, &domain.TailCheckpoint{}}

// InitDB opens the local state database (tail checkpoints, rollup history)
// and runs migrations when enabled.
// Parameters:
//   - cfg: database configuration including driver and connection settings.
//   - log: logger for driver selection messages.
// Returns:
//   - *gorm.DB: initialized database handle.
//   - error: non-nil if connection or migration fails.
func InitDB(cfg *config.DatabaseConfig, log *logger.Logger) (*gorm.DB, error) {
	log = log.WithComponent("state-db")

	dialector, err := stateDialector(cfg, log)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s state database: %w", dialector.Name(), err)
	}
	if dialector.Name() == "sqlite" {
		// Concurrent tail followers and the API server share the file.
		db.Exec("PRAGMA journal_mode=WAL")
	}

	if err := tunePool(db, cfg); err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(stateModels...); err != nil {
			return nil, fmt.Errorf("migrate state database: %w", err)
		}
	}
	return db, nil
}

func stateDialector(cfg *config.DatabaseConfig, log *logger.Logger) (gorm.Dialector, error) {
	dsn := cfg.DSN()
	switch cfg.Driver {
	case "postgres":
		if dsn == "" {
			return nil, errors.New("postgres state database requires DEVLOGS_DB_DSN")
		}
		log.Debug("state database: postgres")
		return postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), nil
	case "sqlite", "":
	default:
		log.Warnf("unknown state database driver %q, using sqlite", cfg.Driver)
	}

	if dsn != ":memory:" && cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	log.WithField("path", dsn).Debug("state database: sqlite")
	return sqlite.Open(dsn), nil
}

func tunePool(db *gorm.DB, cfg *config.DatabaseConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("state database handle: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return nil
}
