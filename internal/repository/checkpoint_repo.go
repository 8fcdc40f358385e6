package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dandriscoll/devlogs/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TailCheckpointRepository stores named tail cursors.
type TailCheckpointRepository struct {
	db *gorm.DB
}

// NewTailCheckpointRepository creates a new TailCheckpointRepository.
func NewTailCheckpointRepository(db *gorm.DB) *TailCheckpointRepository {
	return &TailCheckpointRepository{db: db}
}

// Get returns the checkpoint for (name, index), or nil if none was saved.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - name: checkpoint name chosen by the caller.
//   - index: document index the cursor belongs to.
// Returns:
//   - *domain.TailCheckpoint: saved checkpoint or nil.
//   - error: non-nil if the lookup fails.
func (r *TailCheckpointRepository) Get(ctx context.Context, name, index string) (*domain.TailCheckpoint, error) {
	var cp domain.TailCheckpoint
	err := r.db.WithContext(ctx).First(&cp, "name = ? AND index_name = ?", name, index).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Save upserts the cursor for (name, index).
func (r *TailCheckpointRepository) Save(ctx context.Context, name, index string, cursor domain.Cursor) error {
	cp := &domain.TailCheckpoint{
		Name:      name,
		Index:     index,
		Cursor:    cursor.Encode(),
		UpdatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}, {Name: "index_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"cursor", "updated_at"}),
	}).Create(cp).Error
}
