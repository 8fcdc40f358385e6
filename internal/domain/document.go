package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Document kinds stored in the doc_type join field.
const (
	KindLogEntry  = "log_entry"
	KindOperation = "operation"
)

// TimeLayout is the canonical wire form: UTC, millisecond precision, trailing Z.
// Fixed width keeps lexical and chronological order identical.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in the canonical wire form.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTime parses ISO-8601 timestamps as written by the various
// producers. Zone-less values are taken as UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// DocType is the join marker: a bare name for roots ("operation"), or
// {"name":"log_entry","parent":<operation id>} for children.
type DocType struct {
	Name   string
	Parent string
}

// ChildOf returns the doc type of a log entry belonging to operationID.
func ChildOf(operationID string) DocType {
	return DocType{Name: KindLogEntry, Parent: operationID}
}

// Root returns the doc type of an operation document.
func Root() DocType {
	return DocType{Name: KindOperation}
}

func (d DocType) IsZero() bool {
	return d.Name == "" && d.Parent == ""
}

func (d DocType) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	if d.Parent == "" {
		return json.Marshal(d.Name)
	}
	return json.Marshal(struct {
		Name   string `json:"name"`
		Parent string `json:"parent"`
	}{d.Name, d.Parent})
}

func (d *DocType) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*d = DocType{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &d.Name)
	}
	var obj struct {
		Name   string `json:"name"`
		Parent string `json:"parent"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("doc_type: %w", err)
	}
	d.Name, d.Parent = obj.Name, obj.Parent
	return nil
}

// Timestamp is an ISO-8601 string on the wire. Numeric epoch seconds
// written by older producers decode into the canonical string form.
type Timestamp string

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*t = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Timestamp(s)
	default:
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		sec, frac := math.Modf(f)
		*t = Timestamp(FormatTime(time.Unix(int64(sec), int64(frac*1e9))))
	}
	return nil
}

// Time parses the timestamp.
func (t Timestamp) Time() (time.Time, bool) {
	return ParseTime(string(t))
}

// StringList decodes either a single string or an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var items []string
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*l = items
	return nil
}

// First returns the first element or "".
func (l StringList) First() string {
	if len(l) == 0 {
		return ""
	}
	return l[0]
}

// LogDocument is one emitted log call as stored. Children carry a
// log_entry doc type naming their operation; standalone roots carry
// "operation".
type LogDocument struct {
	DocType           DocType        `json:"doc_type"`
	Timestamp         Timestamp      `json:"timestamp"`
	Level             string         `json:"level,omitempty"`
	LevelNo           int            `json:"levelno,omitempty"`
	LoggerName        string         `json:"logger_name,omitempty"`
	Message           string         `json:"message"`
	Pathname          string         `json:"pathname,omitempty"`
	Lineno            *int           `json:"lineno,omitempty"`
	FuncName          string         `json:"funcName,omitempty"`
	Thread            *int64         `json:"thread,omitempty"`
	Process           *int           `json:"process,omitempty"`
	Exception         string         `json:"exception,omitempty"`
	Area              string         `json:"area,omitempty"`
	OperationID       string         `json:"operation_id,omitempty"`
	ParentOperationID string         `json:"parent_operation_id,omitempty"`
	Features          map[string]any `json:"features,omitempty"`
}

// Entry is the uniform display shape every stored document expands to.
// It is also the compacted form embedded in operation documents.
type Entry struct {
	Timestamp         string         `json:"timestamp"`
	Level             string         `json:"level"`
	Message           string         `json:"message"`
	LoggerName        string         `json:"logger_name,omitempty"`
	Area              string         `json:"area,omitempty"`
	OperationID       string         `json:"operation_id,omitempty"`
	ParentOperationID string         `json:"parent_operation_id,omitempty"`
	Pathname          string         `json:"pathname,omitempty"`
	Lineno            *int           `json:"lineno,omitempty"`
	Exception         string         `json:"exception,omitempty"`
	Features          map[string]any `json:"features,omitempty"`
	// SourceID is the store id of the child document an embedded entry
	// was folded from.
	SourceID          string         `json:"source_id,omitempty"`
}

// OperationDocument is the rolled-up parent written once per root
// operation id. Timestamp mirrors EndTime and Levels lists the distinct
// levels of the folded entries, so time and level filters written for
// children also select rolled-up parents.
type OperationDocument struct {
	DocType           DocType        `json:"doc_type"`
	OperationID       string         `json:"operation_id"`
	ParentOperationID string         `json:"parent_operation_id,omitempty"`
	Area              string         `json:"area,omitempty"`
	Timestamp         string         `json:"timestamp,omitempty"`
	Levels            []string       `json:"level,omitempty"`
	StartTime         string         `json:"start_time,omitempty"`
	EndTime           string         `json:"end_time,omitempty"`
	CountsByLevel     map[string]int `json:"counts_by_level"`
	ErrorCount        int            `json:"error_count"`
	LastMessage       string         `json:"last_message,omitempty"`
	Entries           []Entry        `json:"entries"`
	Message           string         `json:"message,omitempty"`
}

// DocumentMeta is the store metadata of a hit.
type DocumentMeta struct {
	ID   string
	Sort []any
}

// Document is a decoded stored document. The concrete type is one of
// *LogEntryDocument, *OperationAggregate or *LegacyOperationBlob.
type Document interface {
	Meta() DocumentMeta
	isDocument()
}

// LogEntryDocument is an ordinary, non-rolled document.
type LogEntryDocument struct {
	DocumentMeta
	LogDocument
}

// OperationAggregate is a rolled-up operation with embedded entries.
type OperationAggregate struct {
	DocumentMeta
	OperationDocument
	// SkippedEntries counts embedded entries that were not objects.
	SkippedEntries int
}

// LegacyOperationBlob is an older rollup that only kept the
// newline-joined "timestamp level logger message" text.
type LegacyOperationBlob struct {
	DocumentMeta
	OperationID       string
	ParentOperationID string
	Area              string
	Timestamp         string
	Level             string
	LoggerName        string
	Message           string
}

func (d *LogEntryDocument) Meta() DocumentMeta    { return d.DocumentMeta }
func (d *OperationAggregate) Meta() DocumentMeta  { return d.DocumentMeta }
func (d *LegacyOperationBlob) Meta() DocumentMeta { return d.DocumentMeta }

func (*LogEntryDocument) isDocument()    {}
func (*OperationAggregate) isDocument()  {}
func (*LegacyOperationBlob) isDocument() {}

// operationWire is the loose decode target for anything that might be a
// rolled-up parent.
type operationWire struct {
	DocType           DocType           `json:"doc_type"`
	OperationID       string            `json:"operation_id"`
	ParentOperationID string            `json:"parent_operation_id"`
	Area              string            `json:"area"`
	Timestamp         Timestamp         `json:"timestamp"`
	Level             StringList        `json:"level"`
	LoggerName        string            `json:"logger_name"`
	StartTime         Timestamp         `json:"start_time"`
	EndTime           Timestamp         `json:"end_time"`
	CountsByLevel     map[string]int    `json:"counts_by_level"`
	ErrorCount        int               `json:"error_count"`
	LastMessage       string            `json:"last_message"`
	Entries           []json.RawMessage `json:"entries"`
	Message           string            `json:"message"`
}

func (w *operationWire) isRollup() bool {
	return len(w.CountsByLevel) > 0 || w.StartTime != "" || w.EndTime != ""
}

// DecodeDocument classifies and decodes the _source of a stored hit.
// A document that matches none of the known shapes yields an error so
// callers can skip and count it.
func DecodeDocument(meta DocumentMeta, source json.RawMessage) (Document, error) {
	source = bytes.TrimSpace(source)
	if len(source) == 0 || source[0] != '{' {
		return nil, fmt.Errorf("document %s: source is not an object", meta.ID)
	}

	var probe struct {
		DocType DocType         `json:"doc_type"`
		Entries json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(source, &probe); err != nil {
		return nil, fmt.Errorf("document %s: %w", meta.ID, err)
	}

	if probe.DocType.Name == KindOperation {
		var w operationWire
		if err := json.Unmarshal(source, &w); err == nil {
			if len(w.Entries) > 0 || isJSONArray(probe.Entries) {
				return decodeAggregate(meta, &w), nil
			}
			if w.isRollup() && strings.TrimSpace(w.Message) != "" {
				return &LegacyOperationBlob{
					DocumentMeta:      meta,
					OperationID:       w.OperationID,
					ParentOperationID: w.ParentOperationID,
					Area:              w.Area,
					Timestamp:         string(w.Timestamp),
					Level:             w.Level.First(),
					LoggerName:        w.LoggerName,
					Message:           w.Message,
				}, nil
			}
		}
	}

	var doc LogDocument
	if err := json.Unmarshal(source, &doc); err != nil {
		return nil, fmt.Errorf("document %s: %w", meta.ID, err)
	}
	return &LogEntryDocument{DocumentMeta: meta, LogDocument: doc}, nil
}

func decodeAggregate(meta DocumentMeta, w *operationWire) *OperationAggregate {
	agg := &OperationAggregate{
		DocumentMeta: meta,
		OperationDocument: OperationDocument{
			DocType:           w.DocType,
			OperationID:       w.OperationID,
			ParentOperationID: w.ParentOperationID,
			Area:              w.Area,
			Timestamp:         string(w.Timestamp),
			Levels:            w.Level,
			StartTime:         string(w.StartTime),
			EndTime:           string(w.EndTime),
			CountsByLevel:     w.CountsByLevel,
			ErrorCount:        w.ErrorCount,
			LastMessage:       w.LastMessage,
			Message:           w.Message,
		},
	}
	for _, raw := range w.Entries {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			agg.SkippedEntries++
			continue
		}
		var entry entryWire
		if err := json.Unmarshal(raw, &entry); err != nil {
			agg.SkippedEntries++
			continue
		}
		agg.Entries = append(agg.Entries, entry.toEntry())
	}
	return agg
}

type entryWire struct {
	Timestamp         Timestamp      `json:"timestamp"`
	Level             string         `json:"level"`
	Message           string         `json:"message"`
	LoggerName        string         `json:"logger_name"`
	Area              string         `json:"area"`
	OperationID       string         `json:"operation_id"`
	ParentOperationID string         `json:"parent_operation_id"`
	Pathname          string         `json:"pathname"`
	Lineno            *int           `json:"lineno"`
	Exception         string         `json:"exception"`
	Features          map[string]any `json:"features"`
	SourceID          string         `json:"source_id"`
}

func (e entryWire) toEntry() Entry {
	return Entry{
		Timestamp:         string(e.Timestamp),
		Level:             e.Level,
		Message:           e.Message,
		LoggerName:        e.LoggerName,
		Area:              e.Area,
		OperationID:       e.OperationID,
		ParentOperationID: e.ParentOperationID,
		Pathname:          e.Pathname,
		Lineno:            e.Lineno,
		Exception:         e.Exception,
		Features:          e.Features,
		SourceID:          e.SourceID,
	}
}

func isJSONArray(b json.RawMessage) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '['
}
