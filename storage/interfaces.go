package storage

import (
	"context"
	"time"

	"github.com/poiesic/tabvec/core"
)

// RunStatus is the terminal status of a processing run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunRecord is the registry entry of one processing run.
type RunRecord struct {
	ProcessingID string                 `json:"processing_id"`
	SourceFile   string                 `json:"source_file"`
	StoreKind    string                 `json:"store_kind"`
	Collection   string                 `json:"collection"`
	Location     string                 `json:"location,omitempty"`
	Model        string                 `json:"model,omitempty"`
	Status       RunStatus              `json:"status"`
	Stage        string                 `json:"stage,omitempty"`
	Error        string                 `json:"error,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	Result       *core.ProcessingResult `json:"result,omitempty"`
}

// Validate checks the fields every backend indexes on.
func (r *RunRecord) Validate() error {
	if r == nil || r.ProcessingID == "" {
		return ErrInvalidRecord
	}
	if r.CreatedAt.IsZero() {
		return ErrInvalidRecord
	}
	return nil
}

// RunRepository stores run records.
// Implementations must be thread-safe and support concurrent access.
type RunRepository interface {
	// SaveRun inserts or replaces the record with the same processing id.
	// Returns ErrInvalidRecord if the id or creation time is missing.
	SaveRun(ctx context.Context, record *RunRecord) error

	// GetRun retrieves a run by processing id.
	// Returns ErrNotFound if the run doesn't exist.
	GetRun(ctx context.Context, processingID string) (*RunRecord, error)

	// ListRuns returns up to limit runs, most recent first.
	// A limit of zero or less returns every run.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// RunsBefore returns runs created strictly before cutoff, oldest first.
	RunsBefore(ctx context.Context, cutoff time.Time) ([]*RunRecord, error)

	// DeleteRun removes a run by processing id.
	// Returns ErrNotFound if the run doesn't exist.
	DeleteRun(ctx context.Context, processingID string) error

	// Close releases the backend.
	Close() error
}
