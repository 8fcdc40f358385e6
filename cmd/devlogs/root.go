package main

import (
	"context"
	"fmt"

	"github.com/dandriscoll/devlogs/internal/config"
	"github.com/dandriscoll/devlogs/internal/ingest"
	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/repository"
	"github.com/dandriscoll/devlogs/internal/service"
	"github.com/dandriscoll/devlogs/internal/storage"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// --- Global flags ---
var (
	envFile    string
	configFile string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "devlogs",
		Short: "Developer logs in OpenSearch: tail, search, roll up and clean",
		Long: `devlogs stores application logs in an OpenSearch index, groups them
into operations, and gives you tail, search and cleanup commands on top.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadApp()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "dotenv file to load (overrides the environment)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and anomaly details")
}

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	store *repository.OpenSearchRepository
	db    *gorm.DB
}

var cli *app

func loadApp() error {
	cfg, err := config.Load(&config.LoadOptions{EnvFile: envFile, ConfigFile: configFile})
	if err != nil {
		return err
	}

	envCfg := logger.LoadFromEnv()
	if verbose {
		envCfg.Level = "debug"
	}
	log := logger.NewFromEnv(envCfg).WithComponent("cli").WithIndex(cfg.Index)
	logger.SetDefaultLogger(log)

	cli = &app{
		cfg: cfg,
		log: log,
		store: repository.NewOpenSearchRepository(&repository.OpenSearchConfig{
			BaseURL:  cfg.OpenSearch.BaseURL(),
			User:     cfg.OpenSearch.User,
			Password: cfg.OpenSearch.Password,
			Timeout:  cfg.OpenSearch.TimeoutDuration(),
			Insecure: cfg.OpenSearch.Insecure,
		}),
	}
	return nil
}

func (a *app) index() string {
	return a.cfg.Index
}

func (a *app) logService() *service.LogService {
	return service.NewLogService(a.store, a.log, &service.LogServiceConfig{Index: a.index()})
}

func (a *app) rollupService() *service.RollupService {
	return service.NewRollupService(a.store, a.log, &service.RollupServiceConfig{
		Index:       a.index(),
		PageSize:    a.cfg.Rollup.PageSize,
		Concurrency: a.cfg.Rollup.Concurrency,
	})
}

// retentionService builds the cleanup service; with archiving enabled it
// also makes sure the bucket exists.
func (a *app) retentionService(ctx context.Context) (*service.RetentionService, error) {
	rcfg := &service.RetentionServiceConfig{
		Index: a.index(),
		Policy: service.RetentionPolicy{
			Debug:   a.cfg.Retention.Debug,
			Info:    a.cfg.Retention.Info,
			Warning: a.cfg.Retention.Warning,
		},
	}
	if a.cfg.Archive.Enabled {
		objects, err := storage.NewStorage(&a.cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("archive storage: %w", err)
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("archive storage: %w", err)
		}
		rcfg.Archiver = service.NewArchiver(a.store, objects, a.log, &service.ArchiverConfig{
			Index:  a.index(),
			Prefix: a.cfg.Archive.Prefix,
		})
	}
	return service.NewRetentionService(a.store, a.log, rcfg), nil
}

// emitter writes through the process-wide breaker, configured from settings.
func (a *app) emitter(mode ingest.Mode) *ingest.Emitter {
	return ingest.NewEmitter(a.store, &ingest.EmitterConfig{
		Index: a.index(),
		Mode:  mode,
		Breaker: ingest.ConfigureDefaultBreaker(&ingest.BreakerConfig{
			Cooldown:      a.cfg.Breaker.Cooldown,
			ErrorInterval: a.cfg.Breaker.ErrorInterval,
			Logger:        a.log,
		}),
		DefaultArea: a.cfg.AreaDefault,
	})
}

// stateDB opens the state database on first use.
func (a *app) stateDB() (*gorm.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := repository.InitDB(&a.cfg.Database, a.log)
	if err != nil {
		return nil, fmt.Errorf("state database: %w", err)
	}
	a.db = db
	return db, nil
}
