package service

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/dandriscoll/devlogs/internal/levels"
	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/metrics"
	"github.com/dandriscoll/devlogs/internal/repository"
)

const (
	DefaultTailLimit   = 20
	DefaultSearchLimit = 50
	maxQueryLimit      = 10000
)

// LogServiceConfig holds configuration for the log service.
type LogServiceConfig struct {
	Index string
}

// SearchResult is one page of documents and their expanded entries.
type SearchResult struct {
	Documents []domain.Document
	Entries   []domain.Entry
	Anomalies Anomalies
}

// TailPage is a SearchResult plus the cursor to resume from.
type TailPage struct {
	SearchResult
	// Cursor is the sort key of the newest delivered document; it is the
	// request cursor unchanged when nothing new was found.
	Cursor domain.Cursor
}

// OperationSummary describes one operation.
type OperationSummary struct {
	OperationID       string         `json:"operation_id"`
	ParentOperationID string         `json:"parent_operation_id,omitempty"`
	Area              string         `json:"area,omitempty"`
	StartTime         string         `json:"start_time,omitempty"`
	EndTime           string         `json:"end_time,omitempty"`
	CountsByLevel     map[string]int `json:"counts_by_level"`
	ErrorCount        int            `json:"error_count"`
	LastMessage       string         `json:"last_message,omitempty"`
	EntryCount        int            `json:"entry_count"`
	// RolledUp is false while some entries are still separate children.
	RolledUp bool           `json:"rolled_up"`
	Entries  []domain.Entry `json:"entries,omitempty"`
}

// OperationListFilter selects rolled-up operations.
type OperationListFilter struct {
	Area       string
	Since      time.Time
	Limit      int
	ErrorsOnly bool
}

// LogService reads log documents back: search, tail, last errors and
// operation summaries.
type LogService struct {
	store  repository.Searcher
	index  string
	logger *logger.Logger
}

// NewLogService creates a new log service.
// Parameters:
//   - store: document store to query.
//   - log: logger instance.
//   - cfg: target index.
// Returns:
//   - *LogService: initialized log service.
func NewLogService(store repository.Searcher, log *logger.Logger, cfg *LogServiceConfig) *LogService {
	s := &LogService{store: store, logger: log}
	if cfg != nil {
		s.index = cfg.Index
	}
	if s.logger == nil {
		s.logger = logger.GetDefault()
	}
	return s
}

// Index returns the index the service reads.
func (s *LogService) Index() string {
	return s.index
}

// Search returns the newest documents matching f, newest first.
// Parameters:
//   - ctx: request context.
//   - f: filters.
//   - limit: maximum documents and entries returned.
// Returns:
//   - *SearchResult: documents and their entries, newest first.
//   - error: typed store error on failure.
func (s *LogService) Search(ctx context.Context, f LogFilter, limit int) (*SearchResult, error) {
	limit = clampLimit(limit, DefaultSearchLimit)
	hits, err := s.query(ctx, "search", BuildLogQuery(f), "desc", limit, nil)
	if err != nil {
		return nil, err
	}
	res := s.expand(hits, f)
	sortEntries(res.Entries, true)
	if len(res.Entries) > limit {
		res.Entries = res.Entries[:limit]
	}
	return res, nil
}

// Tail returns the next page of the chronological stream matching f.
//
// Without a cursor it returns the newest limit documents in ascending
// order. With a cursor it returns up to limit documents strictly after
// it, ascending. Documents are ordered by (timestamp, _id), so a burst of
// same-millisecond documents is neither skipped nor repeated across pages.
func (s *LogService) Tail(ctx context.Context, f LogFilter, limit int, cursor domain.Cursor) (*TailPage, error) {
	limit = clampLimit(limit, DefaultTailLimit)
	query := BuildLogQuery(f)

	var (
		hits []repository.Hit
		err  error
	)
	if cursor.IsZero() {
		hits, err = s.query(ctx, "tail", query, "desc", limit, nil)
		slices.Reverse(hits)
	} else {
		hits, err = s.query(ctx, "tail", query, "asc", limit, cursor)
	}
	if err != nil {
		return nil, err
	}

	page := &TailPage{SearchResult: *s.expand(hits, f), Cursor: cursor}
	if len(hits) > 0 {
		if last := hits[len(hits)-1].Sort; len(last) > 0 {
			page.Cursor = domain.Cursor(last)
		}
	}
	return page, nil
}

// LastErrors returns the most recent error and critical entries, newest first.
func (s *LogService) LastErrors(ctx context.Context, f LogFilter, limit int) ([]domain.Entry, error) {
	if limit <= 0 {
		limit = 1
	}
	f.Level = ""
	var errorTerms []string
	for _, lvl := range []levels.Level{levels.Error, levels.Critical} {
		errorTerms = append(errorTerms, string(lvl), lvl.Upper())
	}
	query := map[string]any{"bool": map[string]any{
		"filter": append(logClauses(f), terms("level", errorTerms)),
	}}

	hits, err := s.query(ctx, "last_error", query, "desc", limit, nil)
	if err != nil {
		return nil, err
	}
	res := s.expand(hits, f)
	var out []domain.Entry
	for _, e := range res.Entries {
		if lvl, ok := levels.Normalize(e.Level); ok && lvl.IsError() {
			out = append(out, e)
		}
	}
	sortEntries(out, true)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// OperationSummary aggregates every entry of operation id, whether it is
// already rolled up or still stored as separate children.
func (s *LogService) OperationSummary(ctx context.Context, id string) (*OperationSummary, error) {
	if id == "" {
		return nil, fmt.Errorf("operation id is required")
	}
	f := LogFilter{OperationID: id}
	var (
		docs   []domain.Document
		cursor domain.Cursor
	)
	for {
		hits, err := s.query(ctx, "operation", BuildLogQuery(f), "asc", 500, cursor)
		if err != nil {
			return nil, err
		}
		batch, _ := DecodeHits(hits)
		docs = append(docs, batch...)
		if len(hits) < 500 {
			break
		}
		cursor = domain.Cursor(hits[len(hits)-1].Sort)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	rolled := true
	var entries []domain.Entry
	for _, doc := range docs {
		if _, ok := doc.(*domain.LogEntryDocument); ok {
			rolled = false
		}
		for _, e := range ExpandDocument(doc) {
			if entryInOperation(e, doc, id) {
				entries = append(entries, e)
			}
		}
	}
	sortEntries(entries, false)
	sum := summaryFromDocument(BuildOperationDocument(id, entries))
	sum.RolledUp = rolled
	sum.Entries = entries
	return sum, nil
}

// ListOperations returns rolled-up operation documents, newest first.
func (s *LogService) ListOperations(ctx context.Context, f OperationListFilter) ([]OperationSummary, error) {
	limit := clampLimit(f.Limit, DefaultTailLimit)
	clauses := []any{
		term("doc_type", domain.KindOperation),
		map[string]any{"exists": map[string]any{"field": "counts_by_level"}},
	}
	if f.Area != "" {
		clauses = append(clauses, term("area", f.Area))
	}
	if r := timeRange(f.Since, time.Time{}); r != nil {
		clauses = append(clauses, r)
	}
	if f.ErrorsOnly {
		clauses = append(clauses, map[string]any{"range": map[string]any{"error_count": map[string]any{"gt": 0}}})
	}
	hits, err := s.query(ctx, "operations", map[string]any{"bool": map[string]any{"filter": clauses}}, "desc", limit, nil)
	if err != nil {
		return nil, err
	}
	docs, anomalies := DecodeHits(hits)
	if !anomalies.Empty() {
		s.logger.WithField(logger.FieldCount, anomalies.SkippedDocuments).Debug("skipped malformed operation documents")
	}

	out := make([]OperationSummary, 0, len(docs))
	for _, doc := range docs {
		switch d := doc.(type) {
		case *domain.OperationAggregate:
			sum := summaryFromDocument(&d.OperationDocument)
			sum.EntryCount = len(d.Entries)
			sum.RolledUp = true
			out = append(out, *sum)
		case *domain.LegacyOperationBlob:
			entries := ExpandDocument(d)
			sum := summaryFromDocument(BuildOperationDocument(d.OperationID, entries))
			sum.RolledUp = true
			out = append(out, *sum)
		}
	}
	return out, nil
}

func (s *LogService) query(ctx context.Context, op string, query map[string]any, order string, size int, after domain.Cursor) ([]repository.Hit, error) {
	start := time.Now()
	resp, err := s.store.Search(ctx, s.index, &repository.SearchRequest{
		Query:       query,
		Sort:        sortByTime(order),
		Size:        size,
		SearchAfter: after,
	})
	metrics.ObserveQuery(op, start)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp.Hits, nil
}

// expand decodes hits and expands them to entries. Entries folded into
// operation documents are filtered again so a search for one level, area
// or nested operation does not return a whole operation's entries.
func (s *LogService) expand(hits []repository.Hit, f LogFilter) *SearchResult {
	docs, anomalies := DecodeHits(hits)
	res := &SearchResult{Documents: docs, Anomalies: anomalies}
	for _, doc := range docs {
		if agg, ok := doc.(*domain.OperationAggregate); ok && agg.SkippedEntries > 0 {
			res.Anomalies.SkippedEntries += agg.SkippedEntries
			res.Anomalies.note("operation %s: %d embedded entries are not objects", agg.OperationID, agg.SkippedEntries)
		}
		for _, e := range ExpandDocument(doc) {
			if _, plain := doc.(*domain.LogEntryDocument); plain || entryMatches(e, doc, f) {
				res.Entries = append(res.Entries, e)
			}
		}
	}
	if !res.Anomalies.Empty() {
		s.logger.WithFields(logger.Fields{
			"skipped_documents": res.Anomalies.SkippedDocuments,
			"skipped_entries":   res.Anomalies.SkippedEntries,
		}).Debug("skipped malformed documents")
	}
	return res
}

func entryMatches(e domain.Entry, doc domain.Document, f LogFilter) bool {
	if f.Area != "" && e.Area != f.Area {
		return false
	}
	if f.OperationID != "" && !entryInOperation(e, doc, f.OperationID) {
		return false
	}
	if f.Level != "" && !slices.Contains(LevelTerms(f.Level), e.Level) {
		return false
	}
	if !f.Since.IsZero() || !f.Until.IsZero() {
		ts, ok := domain.ParseTime(e.Timestamp)
		if !ok {
			return false
		}
		if !f.Since.IsZero() && ts.Before(f.Since) {
			return false
		}
		if !f.Until.IsZero() && ts.After(f.Until) {
			return false
		}
	}
	return true
}

// entryInOperation reports whether e belongs to operation id: its own
// entries, its direct children, or everything when id is the root the
// document was rolled up under.
func entryInOperation(e domain.Entry, doc domain.Document, id string) bool {
	if e.OperationID == id || e.ParentOperationID == id {
		return true
	}
	switch d := doc.(type) {
	case *domain.OperationAggregate:
		return d.OperationID == id
	case *domain.LegacyOperationBlob:
		return d.OperationID == id
	}
	return false
}

func summaryFromDocument(doc *domain.OperationDocument) *OperationSummary {
	return &OperationSummary{
		OperationID:       doc.OperationID,
		ParentOperationID: doc.ParentOperationID,
		Area:              doc.Area,
		StartTime:         doc.StartTime,
		EndTime:           doc.EndTime,
		CountsByLevel:     doc.CountsByLevel,
		ErrorCount:        doc.ErrorCount,
		LastMessage:       doc.LastMessage,
		EntryCount:        len(doc.Entries),
	}
}

// sortEntries orders entries by timestamp; unparseable timestamps keep
// their relative position at the end.
func sortEntries(entries []domain.Entry, newestFirst bool) {
	sort.SliceStable(entries, func(i, j int) bool {
		ti, iok := domain.ParseTime(entries[i].Timestamp)
		tj, jok := domain.ParseTime(entries[j].Timestamp)
		switch {
		case !iok || !jok:
			return iok && !jok
		case newestFirst:
			return ti.After(tj)
		default:
			return ti.Before(tj)
		}
	})
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxQueryLimit)
}
