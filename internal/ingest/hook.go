package ingest

import (
	"context"
	"fmt"
	"maps"
	"math"

	"github.com/sirupsen/logrus"
)

// Reserved logrus data keys. Every other key becomes a feature.
const (
	KeyArea        = "area"
	KeyOperationID = "operation_id"
	KeyFeatures    = "features"
	KeyLogger      = "logger"
	// KeyThread carries a numeric worker or goroutine id stored as thread.
	KeyThread = "thread"
)

// Hook is a logrus.Hook that ships entries to the document store.
//
//	log := logrus.New()
//	log.AddHook(ingest.NewHook(emitter, &ingest.HookConfig{LoggerName: "billing"}))
//	log.WithContext(ctx).WithField("area", "payments").Info("charged")
type Hook struct {
	emitter    *Emitter
	levels     []logrus.Level
	loggerName string
}

// HookConfig configures a Hook.
type HookConfig struct {
	// MinLevel is the least severe level shipped (default debug).
	MinLevel logrus.Level
	// LoggerName is used when an entry has no "logger" field.
	LoggerName string
}

// NewHook creates a hook writing through emitter.
func NewHook(emitter *Emitter, cfg *HookConfig) *Hook {
	if cfg == nil {
		cfg = &HookConfig{MinLevel: logrus.DebugLevel}
	}
	minLevel := cfg.MinLevel
	if minLevel == logrus.PanicLevel {
		minLevel = logrus.DebugLevel
	}
	var lv []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= minLevel {
			lv = append(lv, l)
		}
	}
	return &Hook{emitter: emitter, levels: lv, loggerName: cfg.LoggerName}
}

func (h *Hook) Levels() []logrus.Level {
	return h.levels
}

// Fire never returns an error; store failures are handled by the breaker.
func (h *Hook) Fire(entry *logrus.Entry) error {
	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}
	h.emitter.Emit(ctx, h.record(entry))
	return nil
}

func (h *Hook) record(entry *logrus.Entry) Record {
	rec := Record{
		Time:       entry.Time,
		Level:      entry.Level,
		Message:    entry.Message,
		LoggerName: h.loggerName,
	}
	if entry.Caller != nil {
		rec.Pathname = entry.Caller.File
		rec.Lineno = entry.Caller.Line
		rec.FuncName = entry.Caller.Function
	}

	features := make(map[string]any)
	for key, value := range entry.Data {
		switch key {
		case KeyArea:
			rec.Area = stringValue(value)
		case KeyOperationID:
			rec.OperationID = stringValue(value)
		case KeyLogger:
			if name := stringValue(value); name != "" {
				rec.LoggerName = name
			}
		case logrus.ErrorKey:
			if err, ok := value.(error); ok && err != nil {
				rec.Exception = fmt.Sprintf("%+v", err)
			} else if value != nil {
				rec.Exception = fmt.Sprint(value)
			}
		case KeyThread:
			if id, ok := int64Value(value); ok {
				rec.Thread = id
			} else {
				features[key] = value
			}
		case KeyFeatures:
			maps.Copy(features, NormalizeFeatures(value))
		default:
			features[key] = value
		}
	}
	if len(features) > 0 {
		rec.Features = features
	}
	return rec
}

func int64Value(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	}
	return 0, false
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}
