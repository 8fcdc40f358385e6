package logger

import (
	"context"
	"maps"
	"time"
)

// Entry collects measurement fields (durations, counts, sizes) for one
// log line written through the context's logger.
//
//	logger.With(logger.Fields{logger.FieldTier: tier}).WithCount(n).Info(ctx, "archived")
type Entry struct {
	fields Fields
}

// With starts an Entry with fields.
func With(fields Fields) *Entry {
	return &Entry{fields: maps.Clone(fields)}
}

func (e *Entry) set(key string, value interface{}) *Entry {
	fields := maps.Clone(e.fields)
	if fields == nil {
		fields = Fields{}
	}
	fields[key] = value
	return &Entry{fields: fields}
}

// WithDuration records the time elapsed since start in milliseconds.
func (e *Entry) WithDuration(start time.Time) *Entry {
	return e.set(FieldDurationMs, time.Since(start).Milliseconds())
}

// WithCount records a count.
func (e *Entry) WithCount(count int) *Entry {
	return e.set(FieldCount, count)
}

func (e *Entry) logger(ctx context.Context) *Logger {
	return FromContext(ctx).WithFields(e.fields)
}

func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Debugf(format, args...)
}

func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Infof(format, args...)
}

func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Warnf(format, args...)
}

func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Errorf(format, args...)
}
