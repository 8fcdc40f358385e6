package service

import (
	"context"
	"time"

	"github.com/dandriscoll/devlogs/internal/domain"
	"github.com/google/uuid"
)

// RunStore persists rollup run records.
type RunStore interface {
	Create(ctx context.Context, run *domain.RollupRun) error
	Update(ctx context.Context, run *domain.RollupRun) error
}

// RollupRequest selects an explicit rollup: one operation tree when
// OperationID is set, otherwise every child newer than Since.
type RollupRequest struct {
	OperationID string
	Since       time.Time
}

// Run performs an explicit rollup and records it in runs when runs is
// non-nil. The returned run carries the outcome even when err is set.
func (s *RollupService) Run(ctx context.Context, runs RunStore, req RollupRequest) (*domain.RollupRun, error) {
	run := &domain.RollupRun{
		ID:          uuid.New().String(),
		Index:       s.index,
		OperationID: req.OperationID,
		Status:      domain.RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	if !req.Since.IsZero() {
		run.Since = domain.FormatTime(req.Since)
	}
	if runs != nil {
		if err := runs.Create(ctx, run); err != nil {
			s.logger.WithError(err).Warn("failed to record rollup run")
			runs = nil
		}
	}

	var err error
	if req.OperationID != "" {
		var written bool
		var n int
		written, n, err = s.rollupCounted(ctx, req.OperationID)
		if written {
			run.Groups = 1
			run.Children = n
		}
	} else {
		var stats *RollupStats
		stats, err = s.RollupOperations(ctx, req.Since)
		if stats != nil {
			run.Children = stats.Children
			run.Groups = stats.Groups
		}
	}

	done := time.Now().UTC()
	run.CompletedAt = &done
	run.Status = domain.RunStatusCompleted
	if err != nil {
		run.Status = domain.RunStatusFailed
		run.ErrorLog = err.Error()
	}
	if runs != nil {
		if uerr := runs.Update(context.WithoutCancel(ctx), run); uerr != nil {
			s.logger.WithError(uerr).Warn("failed to update rollup run")
		}
	}
	return run, err
}
