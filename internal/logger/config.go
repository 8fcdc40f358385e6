package logger

import (
	"io"
	"os"
	"strconv"
)

// EnvConfig holds logger configuration loaded from DEVLOGS_LOG_* variables.
type EnvConfig struct {
	Level       string // debug, info, warn, error
	Format      string // text, json
	ServiceName string
	// Output, when set, replaces stderr and the file sink.
	Output io.Writer

	// LogFile adds a rotated file sink; LogFileOnly drops stderr.
	LogFile     string
	LogFileOnly bool
	MaxSize     int // MB
	MaxBackups  int
	MaxAge      int // days
	Compress    bool
}

// LoadFromEnv reads the logger configuration from the environment.
// The level defaults to warn so diagnostics stay out of the way of
// command output.
func LoadFromEnv() *EnvConfig {
	return &EnvConfig{
		Level:       envString("DEVLOGS_LOG_LEVEL", "warn"),
		Format:      envString("DEVLOGS_LOG_FORMAT", "text"),
		ServiceName: envString("DEVLOGS_SERVICE_NAME", "devlogs"),
		LogFile:     envString("DEVLOGS_LOG_FILE", ""),
		LogFileOnly: envBool("DEVLOGS_LOG_FILE_ONLY", false),
		MaxSize:     envInt("DEVLOGS_LOG_MAX_SIZE", 50),
		MaxBackups:  envInt("DEVLOGS_LOG_MAX_BACKUPS", 3),
		MaxAge:      envInt("DEVLOGS_LOG_MAX_AGE", 14),
		Compress:    envBool("DEVLOGS_LOG_COMPRESS", true),
	}
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

func envInt(key string, def int) int {
	if i, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return i
	}
	return def
}
