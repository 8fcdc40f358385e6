// Package levels maps the many spellings of a log severity onto the
// canonical set stored in documents: debug, info, warning, error, critical.
package levels

import (
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level is a canonical lowercase severity name.
type Level string

const (
	Debug    Level = "debug"
	Info     Level = "info"
	Warning  Level = "warning"
	Error    Level = "error"
	Critical Level = "critical"
)

// All lists the canonical levels from least to most severe.
var All = []Level{Debug, Info, Warning, Error, Critical}

var aliases = map[string]Level{
	"debug":    Debug,
	"trace":    Debug,
	"info":     Info,
	"warning":  Warning,
	"warn":     Warning,
	"error":    Error,
	"err":      Error,
	"critical": Critical,
	"fatal":    Critical,
	"panic":    Critical,
}

// Normalize returns the canonical level for v.
// Accepted inputs are level names in any case (with common aliases),
// numeric severities (10/20/30/40/50 scale, as ints, floats or numeric
// strings), Level and logrus.Level values.
// The second result is false when v cannot be mapped.
func Normalize(v any) (Level, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case Level:
		return normalizeString(string(val))
	case string:
		return normalizeString(val)
	case logrus.Level:
		return FromLogrus(val), true
	case int:
		return fromNumber(float64(val)), true
	case int8:
		return fromNumber(float64(val)), true
	case int16:
		return fromNumber(float64(val)), true
	case int32:
		return fromNumber(float64(val)), true
	case int64:
		return fromNumber(float64(val)), true
	case uint:
		return fromNumber(float64(val)), true
	case uint8:
		return fromNumber(float64(val)), true
	case uint16:
		return fromNumber(float64(val)), true
	case uint32:
		return fromNumber(float64(val)), true
	case uint64:
		return fromNumber(float64(val)), true
	case float32:
		return fromFloat(float64(val))
	case float64:
		return fromFloat(val)
	}
	return "", false
}

// MustNormalize is Normalize without the ok flag; unknown inputs map to "".
func MustNormalize(v any) Level {
	l, _ := Normalize(v)
	return l
}

func normalizeString(s string) (Level, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return "", false
	}
	if l, ok := aliases[key]; ok {
		return l, true
	}
	if n, err := strconv.ParseFloat(key, 64); err == nil {
		return fromFloat(n)
	}
	return "", false
}

func fromFloat(n float64) (Level, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return "", false
	}
	return fromNumber(n), true
}

func fromNumber(n float64) Level {
	switch {
	case n < 20:
		return Debug
	case n < 30:
		return Info
	case n < 40:
		return Warning
	case n < 50:
		return Error
	default:
		return Critical
	}
}

// FromLogrus maps a logrus level onto the canonical set.
func FromLogrus(l logrus.Level) Level {
	switch l {
	case logrus.PanicLevel, logrus.FatalLevel:
		return Critical
	case logrus.ErrorLevel:
		return Error
	case logrus.WarnLevel:
		return Warning
	case logrus.InfoLevel:
		return Info
	default:
		return Debug
	}
}

// Upper returns the uppercase spelling used by older writers.
func (l Level) Upper() string {
	return strings.ToUpper(string(l))
}

// Number returns the numeric severity written as levelno.
func (l Level) Number() int {
	switch l {
	case Debug:
		return 10
	case Info:
		return 20
	case Warning:
		return 30
	case Error:
		return 40
	case Critical:
		return 50
	}
	return 0
}

// IsError reports whether l counts towards an operation's error_count.
func (l Level) IsError() bool {
	return l == Error || l == Critical
}

func (l Level) String() string {
	return string(l)
}
