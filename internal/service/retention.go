package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dandriscoll/devlogs/internal/levels"
	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/metrics"
	"github.com/dandriscoll/devlogs/internal/repository"
)

// Retention tiers.
const (
	TierDebug   = "debug"
	TierInfo    = "info"
	TierWarning = "warning"
)

// RetentionPolicy is how long each tier is kept.
type RetentionPolicy struct {
	// Debug applies to documents holding only debug entries.
	Debug time.Duration
	// Info applies to documents holding nothing above info.
	Info time.Duration
	// Warning applies to every document.
	Warning time.Duration
}

// RetentionServiceConfig holds configuration for the retention service.
type RetentionServiceConfig struct {
	Index  string
	Policy RetentionPolicy
	// Archiver, when set, copies each tier to object storage first.
	Archiver *Archiver
	// Now replaces time.Now in tests.
	Now func() time.Time
}

// TierResult reports one tier of a cleanup.
type TierResult struct {
	Tier       string `json:"tier"`
	Cutoff     string `json:"cutoff"`
	Matched    int64  `json:"matched"`
	Deleted    int64  `json:"deleted"`
	Archived   int    `json:"archived,omitempty"`
	ArchiveKey string `json:"archive_key,omitempty"`
}

// CleanupResult reports a cleanup run.
type CleanupResult struct {
	DryRun bool         `json:"dry_run"`
	Tiers  []TierResult `json:"tiers"`
}

// RetentionStats summarises what cleanup would touch.
type RetentionStats struct {
	Total int64 `json:"total"`
	// Hot counts documents newer than the debug threshold.
	Hot      int64            `json:"hot"`
	Eligible map[string]int64 `json:"eligible"`
}

// RetentionService deletes documents past their tier's retention.
type RetentionService struct {
	store    repository.DocumentStore
	index    string
	policy   RetentionPolicy
	archiver *Archiver
	now      func() time.Time
	logger   *logger.Logger
}

// NewRetentionService creates a new retention service.
// Parameters:
//   - store: document store to clean.
//   - log: logger instance.
//   - cfg: index, policy and optional archiver.
// Returns:
//   - *RetentionService: initialized retention service.
func NewRetentionService(store repository.DocumentStore, log *logger.Logger, cfg *RetentionServiceConfig) *RetentionService {
	s := &RetentionService{store: store, now: time.Now, logger: log}
	if cfg != nil {
		s.index = cfg.Index
		s.policy = cfg.Policy
		s.archiver = cfg.Archiver
		if cfg.Now != nil {
			s.now = cfg.Now
		}
	}
	if s.logger == nil {
		s.logger = logger.GetDefault()
	}
	return s
}

type retentionTier struct {
	name   string
	maxAge time.Duration
	// ceiling is the most severe level the tier may delete; empty means all.
	ceiling levels.Level
}

func (s *RetentionService) tiers() []retentionTier {
	return []retentionTier{
		{name: TierDebug, maxAge: s.policy.Debug, ceiling: levels.Debug},
		{name: TierInfo, maxAge: s.policy.Info, ceiling: levels.Info},
		{name: TierWarning, maxAge: s.policy.Warning},
	}
}

// tierQuery matches documents older than the tier's cutoff. Level-capped
// tiers exclude any document carrying a more severe level, so a rolled-up
// operation with one error is kept until the last tier.
func tierQuery(t retentionTier, cutoff time.Time) map[string]any {
	clauses := []any{
		map[string]any{"range": map[string]any{"timestamp": map[string]any{"lt": cutoff.UTC().Format(time.RFC3339Nano)}}},
	}
	var mustNot []any
	if t.ceiling != "" {
		var allowed, above []string
		for _, lvl := range levels.All {
			if lvl.Number() <= t.ceiling.Number() {
				allowed = append(allowed, string(lvl), lvl.Upper())
			} else {
				above = append(above, string(lvl), lvl.Upper())
			}
		}
		clauses = append(clauses, terms("level", allowed))
		mustNot = append(mustNot, terms("level", above))
	}
	b := map[string]any{"filter": clauses}
	if len(mustNot) > 0 {
		b["must_not"] = mustNot
	}
	return map[string]any{"bool": b}
}

// Cleanup deletes, per tier, every document older than the tier's
// retention. A dry run only counts.
// Parameters:
//   - ctx: request context.
//   - dryRun: count instead of deleting.
// Returns:
//   - *CleanupResult: per-tier counts.
//   - error: first failure; an archive failure skips that tier's delete.
func (s *RetentionService) Cleanup(ctx context.Context, dryRun bool) (*CleanupResult, error) {
	now := s.now()
	res := &CleanupResult{DryRun: dryRun}
	for _, t := range s.tiers() {
		if t.maxAge <= 0 {
			continue
		}
		cutoff := now.Add(-t.maxAge)
		query := tierQuery(t, cutoff)
		tr := TierResult{Tier: t.name, Cutoff: cutoff.UTC().Format(time.RFC3339)}

		matched, err := s.store.Count(ctx, s.index, query)
		if err != nil {
			return res, fmt.Errorf("cleanup %s: %w", t.name, err)
		}
		tr.Matched = matched
		if dryRun || matched == 0 {
			res.Tiers = append(res.Tiers, tr)
			continue
		}

		if s.archiver != nil {
			archived, err := s.archiver.Archive(ctx, t.name, query)
			if err != nil {
				return res, fmt.Errorf("cleanup %s: %w", t.name, err)
			}
			tr.Archived = archived.Documents
			tr.ArchiveKey = archived.Key
		}

		del, err := s.store.DeleteByQuery(ctx, s.index, &repository.DeleteByQueryRequest{
			Query:              query,
			ProceedOnConflicts: true,
			Slices:             "auto",
		})
		if err != nil {
			return res, fmt.Errorf("cleanup %s: %w", t.name, err)
		}
		tr.Deleted = del.Deleted
		metrics.RetentionDeleted.WithLabelValues(t.name).Add(float64(del.Deleted))
		s.logger.WithFields(logger.Fields{
			logger.FieldTier:  t.name,
			logger.FieldCount: del.Deleted,
		}).Info("retention cleanup")
		res.Tiers = append(res.Tiers, tr)
	}
	return res, nil
}

// Stats counts all documents, the hot tier and what each tier would delete.
func (s *RetentionService) Stats(ctx context.Context) (*RetentionStats, error) {
	now := s.now()
	total, err := s.store.Count(ctx, s.index, nil)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	stats := &RetentionStats{Total: total, Eligible: make(map[string]int64)}

	if s.policy.Debug > 0 {
		hot, err := s.store.Count(ctx, s.index, map[string]any{"range": map[string]any{
			"timestamp": map[string]any{"gte": now.Add(-s.policy.Debug).UTC().Format(time.RFC3339Nano)},
		}})
		if err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		stats.Hot = hot
	}
	for _, t := range s.tiers() {
		if t.maxAge <= 0 {
			continue
		}
		n, err := s.store.Count(ctx, s.index, tierQuery(t, now.Add(-t.maxAge)))
		if err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		stats.Eligible[t.name] = n
	}
	return stats, nil
}
