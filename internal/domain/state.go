package domain

import "time"

// RunStatus represents the outcome of an explicit rollup run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RollupRun records one explicit rollup pass for `devlogs rollup history`.
type RollupRun struct {
	ID          string     `gorm:"type:text;primaryKey" json:"id"`
	Index       string     `gorm:"column:index_name;type:text;not null;index" json:"index"`
	OperationID string     `gorm:"type:text" json:"operation_id,omitempty"`
	Since       string     `gorm:"type:text" json:"since,omitempty"`
	Status      RunStatus  `gorm:"default:running" json:"status"`
	Children    int        `gorm:"default:0" json:"children"`
	Groups      int        `gorm:"default:0" json:"groups"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ErrorLog    string     `json:"error_log,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for RollupRun.
func (RollupRun) TableName() string {
	return "rollup_runs"
}

// TailCheckpoint persists the last tail cursor under a caller-chosen name
// so a follow session can resume where it stopped.
type TailCheckpoint struct {
	Name      string    `gorm:"type:text;primaryKey" json:"name"`
	Index     string    `gorm:"column:index_name;type:text;primaryKey" json:"index"`
	Cursor    string    `gorm:"type:text" json:"cursor"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for TailCheckpoint.
func (TailCheckpoint) TableName() string {
	return "tail_checkpoints"
}
