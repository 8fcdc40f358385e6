// Package devlogs ships application logs to an OpenSearch index and groups
// them into operations.
//
// A host application installs the logrus hook once and wraps units of work
// in operation scopes:
//
//	client, err := devlogs.New(nil)
//	if err != nil {
//		return err
//	}
//	client.Install(logrus.StandardLogger())
//
//	err = devlogs.Run(ctx, func(ctx context.Context) error {
//		logrus.WithContext(ctx).Info("charging card")
//		return nil
//	}, devlogs.WithArea("billing"))
//
// When the outermost scope ends its entries are rolled up into one
// operation document. Store failures never reach the host: writes pause
// for a cool-down and resume on their own.
package devlogs

import (
	"context"

	"github.com/dandriscoll/devlogs/internal/config"
	"github.com/dandriscoll/devlogs/internal/ingest"
	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/operation"
	"github.com/dandriscoll/devlogs/internal/repository"
	"github.com/dandriscoll/devlogs/internal/service"
	"github.com/sirupsen/logrus"
)

type (
	// Hook is the logrus hook that writes entries to the index.
	Hook = ingest.Hook
	// Emitter writes records through the circuit breaker.
	Emitter = ingest.Emitter
	// Record is one log event handed to an Emitter.
	Record = ingest.Record
	// Tracker starts operation scopes.
	Tracker = operation.Tracker
	// Scope is one active operation.
	Scope = operation.Scope
	// Option configures a scope.
	Option = operation.Option
)

// Options configures New.
type Options struct {
	// EnvFile is a dotenv file loaded with override semantics.
	EnvFile string
	// ConfigFile is an optional YAML config file.
	ConfigFile string
	// Diagnostics gives every record an operation id, generating one when
	// none is active.
	Diagnostics bool
	// LoggerName tags entries that carry no "logger" field.
	LoggerName string
	// MinLevel is the least severe level shipped (default debug).
	MinLevel logrus.Level
}

// Client bundles the emitter, hook and tracker built from configuration.
type Client struct {
	emitter *ingest.Emitter
	hook    *ingest.Hook
	tracker *operation.Tracker
	index   string
}

// New loads configuration from DEVLOGS_* variables (and the optional files
// in opts) and builds a client writing to the configured index.
func New(opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	cfg, err := config.Load(&config.LoadOptions{EnvFile: opts.EnvFile, ConfigFile: opts.ConfigFile})
	if err != nil {
		return nil, err
	}
	store := repository.NewOpenSearchRepository(&repository.OpenSearchConfig{
		BaseURL:  cfg.OpenSearch.BaseURL(),
		User:     cfg.OpenSearch.User,
		Password: cfg.OpenSearch.Password,
		Timeout:  cfg.OpenSearch.TimeoutDuration(),
		Insecure: cfg.OpenSearch.Insecure,
	})
	return newClient(store, cfg, opts, logger.GetDefault()), nil
}

func newClient(store repository.DocumentStore, cfg *config.Config, opts *Options, log *logger.Logger) *Client {
	if opts == nil {
		opts = &Options{}
	}
	mode := ingest.ModeBasic
	if opts.Diagnostics {
		mode = ingest.ModeDiagnostics
	}
	emitter := ingest.NewEmitter(store, &ingest.EmitterConfig{
		Index: cfg.Index,
		Mode:  mode,
		Breaker: ingest.ConfigureDefaultBreaker(&ingest.BreakerConfig{
			Cooldown:      cfg.Breaker.Cooldown,
			ErrorInterval: cfg.Breaker.ErrorInterval,
			Logger:        log,
		}),
		DefaultArea: cfg.AreaDefault,
	})
	minLevel := opts.MinLevel
	if minLevel == logrus.PanicLevel {
		minLevel = logrus.DebugLevel
	}
	roller := service.NewRollupService(store, log, &service.RollupServiceConfig{
		Index:       cfg.Index,
		PageSize:    cfg.Rollup.PageSize,
		Concurrency: cfg.Rollup.Concurrency,
	})
	return &Client{
		emitter: emitter,
		hook:    ingest.NewHook(emitter, &ingest.HookConfig{MinLevel: minLevel, LoggerName: opts.LoggerName}),
		tracker: operation.NewTracker(roller, log),
		index:   cfg.Index,
	}
}

// Install adds the hook to log and makes the client's tracker the default
// used by Start and Run.
func (c *Client) Install(log *logrus.Logger) {
	log.AddHook(c.hook)
	operation.SetDefault(c.tracker)
}

// Hook returns the client's logrus hook.
func (c *Client) Hook() *Hook { return c.hook }

// Emitter returns the client's emitter for callers that do not use logrus.
func (c *Client) Emitter() *Emitter { return c.emitter }

// Tracker returns the client's tracker.
func (c *Client) Tracker() *Tracker { return c.tracker }

// Index returns the index the client writes to.
func (c *Client) Index() string { return c.index }

// Start begins an operation scope on the default tracker.
func Start(ctx context.Context, opts ...Option) (context.Context, *Scope) {
	return operation.Start(ctx, opts...)
}

// Run runs fn inside an operation scope on the default tracker.
func Run(ctx context.Context, fn func(ctx context.Context) error, opts ...Option) error {
	return operation.Run(ctx, fn, opts...)
}

// WithID sets the scope's operation id instead of generating one.
func WithID(id string) Option { return operation.WithID(id) }

// WithArea tags the scope's entries with area.
func WithArea(area string) Option { return operation.WithScopeArea(area) }

// WithRollup turns the rollup at the end of an outermost scope on or off.
func WithRollup(enabled bool) Option { return operation.WithRollup(enabled) }

// SetArea returns a context whose ambient area is area.
func SetArea(ctx context.Context, area string) context.Context {
	return operation.WithArea(ctx, area)
}

// OperationID returns the operation id active in ctx, or "".
func OperationID(ctx context.Context) string {
	return operation.OperationID(ctx)
}

// Area returns the area active in ctx, or "".
func Area(ctx context.Context) string {
	return operation.Area(ctx)
}
