package service

import (
	"fmt"
	"strings"

	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/levels"
	"github.com/dandriscoll/devlogs/internal/repository"
)

const maxAnomalySamples = 5

// Anomalies counts stored data that did not have the expected shape.
// Samples keeps the first few descriptions for verbose output.
type Anomalies struct {
	SkippedDocuments int      `json:"skipped_documents"`
	SkippedEntries   int      `json:"skipped_entries"`
	Samples          []string `json:"samples,omitempty"`
}

// Empty reports whether nothing was skipped.
func (a Anomalies) Empty() bool {
	return a.SkippedDocuments == 0 && a.SkippedEntries == 0
}

func (a *Anomalies) note(format string, args ...any) {
	if len(a.Samples) < maxAnomalySamples {
		a.Samples = append(a.Samples, fmt.Sprintf(format, args...))
	}
}

// Merge adds other's counts and samples to a.
func (a *Anomalies) Merge(other Anomalies) {
	a.SkippedDocuments += other.SkippedDocuments
	a.SkippedEntries += other.SkippedEntries
	for _, s := range other.Samples {
		if len(a.Samples) >= maxAnomalySamples {
			break
		}
		a.Samples = append(a.Samples, s)
	}
}

// DecodeHits classifies search hits, skipping and counting the ones that
// match no known document shape.
func DecodeHits(hits []repository.Hit) ([]domain.Document, Anomalies) {
	var anomalies Anomalies
	docs := make([]domain.Document, 0, len(hits))
	for _, hit := range hits {
		doc, err := domain.DecodeDocument(domain.DocumentMeta{ID: hit.ID, Sort: hit.Sort}, hit.Source)
		if err != nil {
			anomalies.SkippedDocuments++
			anomalies.note("%v", err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, anomalies
}

// NormalizeEntries expands docs in order and returns at most limit
// entries (all of them when limit <= 0).
func NormalizeEntries(docs []domain.Document, limit int) ([]domain.Entry, Anomalies) {
	var anomalies Anomalies
	var entries []domain.Entry
	for _, doc := range docs {
		if agg, ok := doc.(*domain.OperationAggregate); ok && agg.SkippedEntries > 0 {
			anomalies.SkippedEntries += agg.SkippedEntries
			anomalies.note("operation %s: %d embedded entries are not objects", agg.OperationID, agg.SkippedEntries)
		}
		entries = append(entries, ExpandDocument(doc)...)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, anomalies
}

// ExpandDocument turns one stored document into display entries.
//
// Operation aggregates yield their embedded entries, which inherit the
// operation's area and ids when they lack their own. Legacy blobs are
// split into one entry per line. Anything else is a single entry.
func ExpandDocument(doc domain.Document) []domain.Entry {
	switch d := doc.(type) {
	case *domain.LogEntryDocument:
		return []domain.Entry{entryFromLog(d.Meta().ID, &d.LogDocument)}
	case *domain.OperationAggregate:
		return expandAggregate(d)
	case *domain.LegacyOperationBlob:
		return expandLegacy(d)
	}
	return nil
}

func entryFromLog(id string, doc *domain.LogDocument) domain.Entry {
	return domain.Entry{
		Timestamp:         string(doc.Timestamp),
		Level:             normalizeLevel(doc.Level),
		Message:           doc.Message,
		LoggerName:        doc.LoggerName,
		Area:              doc.Area,
		OperationID:       doc.OperationID,
		ParentOperationID: doc.ParentOperationID,
		Pathname:          doc.Pathname,
		Lineno:            doc.Lineno,
		Exception:         doc.Exception,
		Features:          doc.Features,
		SourceID:          id,
	}
}

func expandAggregate(agg *domain.OperationAggregate) []domain.Entry {
	out := make([]domain.Entry, 0, len(agg.Entries))
	for _, e := range agg.Entries {
		e.Level = normalizeLevel(e.Level)
		if e.Area == "" {
			e.Area = agg.Area
		}
		if e.OperationID == "" {
			e.OperationID = agg.OperationID
		}
		if e.ParentOperationID == "" {
			e.ParentOperationID = agg.ParentOperationID
		}
		out = append(out, e)
	}
	return out
}

func expandLegacy(blob *domain.LegacyOperationBlob) []domain.Entry {
	var out []domain.Entry
	for _, line := range strings.Split(blob.Message, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry := domain.Entry{
			Area:              blob.Area,
			OperationID:       blob.OperationID,
			ParentOperationID: blob.ParentOperationID,
		}
		if ts, level, loggerName, message, ok := parseLegacyLine(line); ok {
			entry.Timestamp = ts
			entry.Level = normalizeLevel(level)
			entry.LoggerName = loggerName
			entry.Message = message
		} else {
			entry.Timestamp = blob.Timestamp
			entry.Level = normalizeLevel(blob.Level)
			entry.LoggerName = blob.LoggerName
			entry.Message = line
		}
		out = append(out, entry)
	}
	return out
}

// parseLegacyLine splits "timestamp level logger message". Best effort:
// the first token only has to look like an ISO-8601 instant.
func parseLegacyLine(line string) (ts, level, loggerName, message string, ok bool) {
	parts := strings.SplitN(line, " ", 4)
	if len(parts) != 4 {
		return "", "", "", "", false
	}
	if !strings.Contains(parts[0], "T") || !strings.ContainsAny(parts[0], "Z+") {
		return "", "", "", "", false
	}
	return parts[0], parts[1], parts[2], parts[3], true
}

// legacyLine renders an entry in the flattened text form kept on
// operation documents for plain-text consumers.
func legacyLine(e domain.Entry) string {
	return strings.Join([]string{e.Timestamp, e.Level, e.LoggerName, e.Message}, " ")
}

// normalizeLevel returns the canonical level, or the input unchanged
// when it is not a recognised severity.
func normalizeLevel(raw string) string {
	if lvl, ok := levels.Normalize(raw); ok {
		return string(lvl)
	}
	return raw
}
