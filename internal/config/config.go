package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultIndex       = "devlogs-0001"
	DefaultAreaDefault = "general"

	defaultRetentionDebug   = "6h"
	defaultRetentionInfo    = "7d"
	defaultRetentionWarning = "30d"
)

type Config struct {
	OpenSearch  OpenSearchConfig `mapstructure:"opensearch"`
	Index       string           `mapstructure:"index"`
	AreaDefault string           `mapstructure:"area_default"`
	Retention   RetentionConfig  `mapstructure:"retention"`
	Breaker     BreakerConfig    `mapstructure:"breaker"`
	Rollup      RollupConfig     `mapstructure:"rollup"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Server      ServerConfig     `mapstructure:"server"`
	Archive     ArchiveConfig    `mapstructure:"archive"`
}

type OpenSearchConfig struct {
	URL      string `mapstructure:"url"`
	Scheme   string `mapstructure:"scheme"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"pass"`
	// Timeout is in seconds.
	Timeout  int  `mapstructure:"timeout"`
	Insecure bool `mapstructure:"insecure"`
}

// BaseURL returns scheme://host:port without credentials.
func (c OpenSearchConfig) BaseURL() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// TimeoutDuration returns the request timeout.
func (c OpenSearchConfig) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// RetentionConfig holds the three cleanup tiers. The string fields are
// the raw settings; Load resolves them into the Duration fields.
type RetentionConfig struct {
	DebugRaw   string `mapstructure:"debug"`
	InfoRaw    string `mapstructure:"info"`
	WarningRaw string `mapstructure:"warning"`

	Debug   time.Duration `mapstructure:"-"`
	Info    time.Duration `mapstructure:"-"`
	Warning time.Duration `mapstructure:"-"`
}

type BreakerConfig struct {
	Cooldown      time.Duration `mapstructure:"cooldown"`
	ErrorInterval time.Duration `mapstructure:"error_interval"`
}

type RollupConfig struct {
	PageSize    int `mapstructure:"page_size"`
	Concurrency int `mapstructure:"concurrency"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	if c.URL != "" {
		return c.URL
	}
	return c.Path
}

type ServerConfig struct {
	Host string     `mapstructure:"host"`
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// ArchiveConfig points at the S3-compatible bucket that receives
// documents before retention deletes them.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
}

// LoadOptions selects where configuration comes from.
type LoadOptions struct {
	// EnvFile is loaded with override semantics when set (--env).
	EnvFile string
	// ConfigFile is an optional YAML file; missing default files are ignored.
	ConfigFile string
}

// Load reads configuration from the dotenv file, optional config file and
// DEVLOGS_* environment variables.
// Parameters:
//   - opts: sources to read; nil means the defaults.
// Returns:
//   - *Config: resolved configuration.
//   - error: non-nil if a requested file cannot be read or a value is invalid.
func Load(opts *LoadOptions) (*Config, error) {
	if opts == nil {
		opts = &LoadOptions{}
	}
	if err := loadDotenv(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("devlogs")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || opts.ConfigFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.OpenSearch.URL != "" {
		explicitIndex := os.Getenv("DEVLOGS_INDEX") != "" || os.Getenv("DEVLOGS_INDEX_LOGS") != "" || v.InConfig("index")
		if err := applyURL(&cfg, cfg.OpenSearch.URL, !explicitIndex); err != nil {
			return nil, err
		}
	}

	if err := resolveRetention(v, &cfg.Retention); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = defaultStatePath()
	}

	return &cfg, nil
}

func loadDotenv(explicit string) error {
	if explicit != "" {
		if err := godotenv.Overload(explicit); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", explicit, err)
		}
		return nil
	}
	if path := os.Getenv("DOTENV_PATH"); path != "" {
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("failed to load DOTENV_PATH %s: %w", path, err)
		}
		return nil
	}
	// A missing .env in the working directory is normal.
	_ = godotenv.Load()
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("opensearch.scheme", "http")
	v.SetDefault("opensearch.host", "localhost")
	v.SetDefault("opensearch.port", 9200)
	v.SetDefault("opensearch.user", "admin")
	v.SetDefault("opensearch.pass", "admin")
	v.SetDefault("opensearch.timeout", 30)
	v.SetDefault("opensearch.insecure", false)
	v.SetDefault("index", DefaultIndex)
	v.SetDefault("area_default", DefaultAreaDefault)
	v.SetDefault("breaker.cooldown", 60*time.Second)
	v.SetDefault("breaker.error_interval", 10*time.Second)
	v.SetDefault("rollup.page_size", 500)
	v.SetDefault("rollup.concurrency", 4)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8888)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.use_ssl", true)
	v.SetDefault("archive.prefix", "devlogs-archive")
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("opensearch.url", "DEVLOGS_OPENSEARCH_URL")
	v.BindEnv("opensearch.scheme", "DEVLOGS_OPENSEARCH_SCHEME")
	v.BindEnv("opensearch.host", "DEVLOGS_OPENSEARCH_HOST")
	v.BindEnv("opensearch.port", "DEVLOGS_OPENSEARCH_PORT")
	v.BindEnv("opensearch.user", "DEVLOGS_OPENSEARCH_USER")
	v.BindEnv("opensearch.pass", "DEVLOGS_OPENSEARCH_PASS")
	v.BindEnv("opensearch.timeout", "DEVLOGS_OPENSEARCH_TIMEOUT")
	v.BindEnv("opensearch.insecure", "DEVLOGS_OPENSEARCH_INSECURE")
	v.BindEnv("index", "DEVLOGS_INDEX", "DEVLOGS_INDEX_LOGS")
	v.BindEnv("area_default", "DEVLOGS_AREA_DEFAULT")

	v.BindEnv("retention.debug", "DEVLOGS_RETENTION_DEBUG")
	v.BindEnv("retention.info", "DEVLOGS_RETENTION_INFO")
	v.BindEnv("retention.warning", "DEVLOGS_RETENTION_WARNING")
	v.BindEnv("retention.debug_hours", "DEVLOGS_RETENTION_DEBUG_HOURS")
	v.BindEnv("retention.info_days", "DEVLOGS_RETENTION_INFO_DAYS")
	v.BindEnv("retention.warning_days", "DEVLOGS_RETENTION_WARNING_DAYS")

	v.BindEnv("breaker.cooldown", "DEVLOGS_BREAKER_COOLDOWN")
	v.BindEnv("breaker.error_interval", "DEVLOGS_BREAKER_ERROR_INTERVAL")
	v.BindEnv("rollup.page_size", "DEVLOGS_ROLLUP_PAGE_SIZE")
	v.BindEnv("rollup.concurrency", "DEVLOGS_ROLLUP_CONCURRENCY")

	v.BindEnv("database.driver", "DEVLOGS_DB_DRIVER")
	v.BindEnv("database.path", "DEVLOGS_DB_PATH")
	v.BindEnv("database.dsn", "DEVLOGS_DB_DSN")

	v.BindEnv("server.host", "DEVLOGS_SERVER_HOST")
	v.BindEnv("server.port", "DEVLOGS_SERVER_PORT")
	v.BindEnv("server.mode", "DEVLOGS_SERVER_MODE")

	v.BindEnv("archive.enabled", "DEVLOGS_ARCHIVE_ENABLED")
	v.BindEnv("archive.type", "DEVLOGS_ARCHIVE_TYPE")
	v.BindEnv("archive.endpoint", "DEVLOGS_ARCHIVE_ENDPOINT")
	v.BindEnv("archive.access_key", "DEVLOGS_ARCHIVE_ACCESS_KEY")
	v.BindEnv("archive.secret_key", "DEVLOGS_ARCHIVE_SECRET_KEY")
	v.BindEnv("archive.use_ssl", "DEVLOGS_ARCHIVE_USE_SSL")
	v.BindEnv("archive.bucket", "DEVLOGS_ARCHIVE_BUCKET")
	v.BindEnv("archive.region", "DEVLOGS_ARCHIVE_REGION")
	v.BindEnv("archive.prefix", "DEVLOGS_ARCHIVE_PREFIX")
}

// applyURL unpacks the http(s)://user:pass@host:port/index shortcut.
// Fields present in the URL override the discrete settings.
func applyURL(cfg *Config, raw string, takeIndex bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid DEVLOGS_OPENSEARCH_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid DEVLOGS_OPENSEARCH_URL: unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("invalid DEVLOGS_OPENSEARCH_URL: missing host")
	}

	search := &cfg.OpenSearch
	search.Scheme = u.Scheme
	search.Host = u.Hostname()
	switch {
	case u.Port() != "":
		port, err := strconv.Atoi(u.Port())
		if err != nil {
			return fmt.Errorf("invalid DEVLOGS_OPENSEARCH_URL port: %w", err)
		}
		search.Port = port
	case u.Scheme == "https":
		search.Port = 443
	default:
		search.Port = 9200
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			search.User = name
		}
		if pass, ok := u.User.Password(); ok {
			search.Password = pass
		}
	}
	if index := strings.Trim(u.Path, "/"); index != "" && takeIndex {
		cfg.Index = index
	}
	return nil
}

func resolveRetention(v *viper.Viper, r *RetentionConfig) error {
	var err error
	if r.Debug, err = resolveTier(r.DebugRaw, v.GetString("retention.debug_hours"), time.Hour, defaultRetentionDebug); err != nil {
		return fmt.Errorf("invalid debug retention: %w", err)
	}
	if r.Info, err = resolveTier(r.InfoRaw, v.GetString("retention.info_days"), 24*time.Hour, defaultRetentionInfo); err != nil {
		return fmt.Errorf("invalid info retention: %w", err)
	}
	if r.Warning, err = resolveTier(r.WarningRaw, v.GetString("retention.warning_days"), 24*time.Hour, defaultRetentionWarning); err != nil {
		return fmt.Errorf("invalid warning retention: %w", err)
	}
	return nil
}

// resolveTier prefers the canonical duration string, then the deprecated
// numeric alias (in aliasUnit), then the default.
func resolveTier(canonical, alias string, aliasUnit time.Duration, fallback string) (time.Duration, error) {
	if strings.TrimSpace(canonical) != "" {
		return ParseDuration(canonical, time.Hour)
	}
	if strings.TrimSpace(alias) != "" {
		return ParseDuration(alias, aliasUnit)
	}
	return ParseDuration(fallback, 0)
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".devlogs", "state.db")
	}
	return filepath.Join(home, ".devlogs", "state.db")
}
