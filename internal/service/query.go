package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/dandriscoll/devlogs/internal/config"
	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/levels"
)

// LogFilter selects log documents. Zero fields are ignored.
type LogFilter struct {
	// Query is free text matched across message, logger, ids, area and features.
	Query       string
	Area        string
	OperationID string
	// Level is matched as written and in its canonical lower and upper forms.
	Level string
	Since time.Time
	Until time.Time
}

// searchFields are the simple_query_string targets; message is boosted.
var searchFields = []string{"message^2", "logger_name", "operation_id", "area", "features.*"}

// BuildLogQuery returns the bool query for f.
//
// The type clause admits child entries, operation documents and documents
// written before doc_type existed, so rolled-up operations stay visible.
func BuildLogQuery(f LogFilter) map[string]any {
	return map[string]any{"bool": map[string]any{"filter": logClauses(f)}}
}

func logClauses(f LogFilter) []any {
	clauses := []any{docTypeClause()}

	if f.Area != "" {
		clauses = append(clauses, term("area", f.Area))
	}
	if f.OperationID != "" {
		clauses = append(clauses, anyOf(
			term("operation_id", f.OperationID),
			term("parent_operation_id", f.OperationID),
			map[string]any{"nested": map[string]any{
				"path":  "entries",
				"query": term("entries.operation_id", f.OperationID),
			}},
		))
	}
	if f.Level != "" {
		clauses = append(clauses, terms("level", LevelTerms(f.Level)))
	}
	if r := timeRange(f.Since, f.Until); r != nil {
		clauses = append(clauses, r)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		clauses = append(clauses, map[string]any{"simple_query_string": map[string]any{
			"query":            q,
			"fields":           searchFields,
			"default_operator": "and",
			"lenient":          true,
		}})
	}
	return clauses
}

// LevelTerms expands a level filter into every stored spelling it should
// match: the canonical form, its upper-case rendering and the raw input.
func LevelTerms(raw string) []string {
	raw = strings.TrimSpace(raw)
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		for _, existing := range out {
			if existing == s {
				return
			}
		}
		out = append(out, s)
	}
	if lvl, ok := levels.Normalize(raw); ok {
		add(string(lvl))
		add(lvl.Upper())
	}
	add(raw)
	return out
}

func docTypeClause() map[string]any {
	return anyOf(
		term("doc_type", domain.KindLogEntry),
		term("doc_type", domain.KindOperation),
		map[string]any{"bool": map[string]any{
			"must_not": []any{map[string]any{"exists": map[string]any{"field": "doc_type"}}},
		}},
	)
}

func term(field string, value any) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

func terms(field string, values any) map[string]any {
	return map[string]any{"terms": map[string]any{field: values}}
}

func anyOf(clauses ...any) map[string]any {
	return map[string]any{"bool": map[string]any{
		"should":               clauses,
		"minimum_should_match": 1,
	}}
}

func timeRange(since, until time.Time) map[string]any {
	if since.IsZero() && until.IsZero() {
		return nil
	}
	bounds := map[string]any{}
	if !since.IsZero() {
		bounds["gte"] = domain.FormatTime(since)
	}
	if !until.IsZero() {
		bounds["lte"] = domain.FormatTime(until)
	}
	return map[string]any{"range": map[string]any{"timestamp": bounds}}
}

func sortByTime(order string) []map[string]any {
	return []map[string]any{
		{"timestamp": map[string]any{"order": order}},
		{"_id": map[string]any{"order": order}},
	}
}

// ParseSince turns a CLI time bound into an instant. Relative values
// ("30m", "2h", "1d") count back from now; anything else must be an
// ISO-8601 timestamp. Empty input yields the zero time.
func ParseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, ok := domain.ParseTime(s); ok {
		return t, nil
	}
	if d, err := config.ParseDuration(s, time.Minute); err == nil {
		return now.Add(-d).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: use a duration like 30m or 2h, or an ISO-8601 timestamp", s)
}
