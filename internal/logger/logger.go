// Package logger is the tool's own diagnostics logger: a logrus entry
// carried through context.Context, writing to stderr (and optionally a
// rotated file) so command output on stdout stays clean.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// rotated is the open log file, closed by Sync.
var (
	rotated   io.Closer
	rotatedMu sync.Mutex
)

// Logger wraps logrus.Entry to provide structured logging with context support.
type Logger struct {
	*logrus.Entry
}

// Config holds logger configuration.
type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json, text
	Output      io.Writer
	ServiceName string
}

// New creates a Logger writing to cfg.Output (stderr when unset).
// A nil cfg gives a warn-level text logger.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = &Config{Level: "warn", Format: "text"}
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	return build(cfg.Level, cfg.Format, cfg.ServiceName, out)
}

// NewFromEnv creates a Logger from DEVLOGS_LOG_* settings, adding a
// lumberjack-rotated file sink when LogFile is set.
func NewFromEnv(env *EnvConfig) *Logger {
	if env == nil {
		env = LoadFromEnv()
	}
	if env.Output != nil {
		return build(env.Level, env.Format, env.ServiceName, env.Output)
	}

	var sinks []io.Writer
	if env.LogFile == "" || !env.LogFileOnly {
		sinks = append(sinks, os.Stderr)
	}
	if env.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   env.LogFile,
			MaxSize:    env.MaxSize,
			MaxBackups: env.MaxBackups,
			MaxAge:     env.MaxAge,
			Compress:   env.Compress,
		}
		sinks = append(sinks, file)

		rotatedMu.Lock()
		rotated = file
		rotatedMu.Unlock()
	}
	return build(env.Level, env.Format, env.ServiceName, io.MultiWriter(sinks...))
}

func build(level, format, service string, out io.Writer) *Logger {
	if service == "" {
		service = "devlogs"
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(parseLevel(level))
	log.SetReportCaller(true)
	log.SetFormatter(newFormatter(format))
	return &Logger{Entry: log.WithField("service", service)}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return New(&Config{Level: "panic", Output: io.Discard})
}

// Sync closes the rotated log file, if any. main calls it on the way out.
func Sync() error {
	rotatedMu.Lock()
	defer rotatedMu.Unlock()
	if rotated == nil {
		return nil
	}
	err := rotated.Close()
	rotated = nil
	return err
}

func parseLevel(s string) logrus.Level {
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.WarnLevel
	}
	return level
}

func newFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
			CallerPrettyfier: shortCaller,
		}
	}
	return &logrus.TextFormatter{
		FullTimestamp:    true,
		TimestampFormat:  timestampFormat,
		CallerPrettyfier: shortCaller,
	}
}

// shortCaller reports "pkg.Func" and "file.go:line".
func shortCaller(frame *runtime.Frame) (string, string) {
	fn := frame.Function
	if idx := strings.LastIndex(fn, "/"); idx != -1 {
		fn = fn[idx+1:]
	}
	return fn, filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
}

// WithFields returns a new Logger with additional fields.
// Parameters:
//   - fields: structured fields to add.
// Returns:
//   - *Logger: derived logger with fields applied.
func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// WithField returns a new Logger with a single additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithError returns a new Logger with an error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

// WithComponent tags the logger with the component emitting entries.
func (l *Logger) WithComponent(name string) *Logger {
	return l.WithField(FieldComponent, name)
}

// WithIndex tags the logger with the document index it works on.
func (l *Logger) WithIndex(index string) *Logger {
	return l.WithField(FieldIndex, index)
}
