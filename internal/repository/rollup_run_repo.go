package repository

import (
	"context"

	"github.com/dandriscoll/devlogs/internal/domain"
	"gorm.io/gorm"
)

// RollupRunRepository records explicit rollup passes.
type RollupRunRepository struct {
	db *gorm.DB
}

// NewRollupRunRepository creates a new RollupRunRepository.
func NewRollupRunRepository(db *gorm.DB) *RollupRunRepository {
	return &RollupRunRepository{db: db}
}

// Create inserts a new run record.
func (r *RollupRunRepository) Create(ctx context.Context, run *domain.RollupRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Update saves the final state of a run.
func (r *RollupRunRepository) Update(ctx context.Context, run *domain.RollupRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

// ListRecent returns the newest runs first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - index: restrict to one index; empty lists all.
//   - limit: maximum rows to return.
// Returns:
//   - []domain.RollupRun: runs ordered by start time descending.
//   - error: non-nil if the query fails.
func (r *RollupRunRepository) ListRecent(ctx context.Context, index string, limit int) ([]domain.RollupRun, error) {
	var runs []domain.RollupRun
	q := r.db.WithContext(ctx).Order("started_at DESC")
	if index != "" {
		q = q.Where("index_name = ?", index)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
