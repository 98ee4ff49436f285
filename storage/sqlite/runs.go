package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/poiesic/tabvec/storage"
)

// RunRepository implements storage.RunRepository on SQLite.
type RunRepository struct {
	db     *sql.DB
	closed atomic.Bool
	logger *slog.Logger
}

var _ storage.RunRepository = (*RunRepository)(nil)

// Open opens (creating if needed) the registry database in dir.
func Open(dir string, logger *slog.Logger) (*RunRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "runs")
	db, err := openDB(context.Background(), dir, logger)
	if err != nil {
		return nil, err
	}
	return &RunRepository{db: db, logger: logger}, nil
}

// Close closes the database.
func (r *RunRepository) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.db.Close()
}

// SaveRun inserts or replaces a run record.
func (r *RunRepository) SaveRun(ctx context.Context, record *storage.RunRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if r.closed.Load() {
		return storage.ErrStorageClosed
	}
	data, err := storage.MarshalRunRecord(record)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (processing_id, created_at, status, store_kind, record)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(processing_id) DO UPDATE SET
			created_at = excluded.created_at,
			status = excluded.status,
			store_kind = excluded.store_kind,
			record = excluded.record`,
		record.ProcessingID, record.CreatedAt.UnixMicro(), string(record.Status), record.StoreKind, string(data))
	return err
}

// GetRun retrieves a run by processing id.
func (r *RunRepository) GetRun(ctx context.Context, processingID string) (*storage.RunRecord, error) {
	if r.closed.Load() {
		return nil, storage.ErrStorageClosed
	}
	var data string
	err := r.db.QueryRowContext(ctx, "SELECT record FROM runs WHERE processing_id = ?", processingID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalRunRecord([]byte(data))
}

// ListRuns returns up to limit runs, most recent first.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]*storage.RunRecord, error) {
	if r.closed.Load() {
		return nil, storage.ErrStorageClosed
	}
	if limit <= 0 {
		limit = -1
	}
	return r.query(ctx, "SELECT record FROM runs ORDER BY created_at DESC, processing_id DESC LIMIT ?", limit)
}

// RunsBefore returns runs created strictly before cutoff, oldest first.
func (r *RunRepository) RunsBefore(ctx context.Context, cutoff time.Time) ([]*storage.RunRecord, error) {
	if r.closed.Load() {
		return nil, storage.ErrStorageClosed
	}
	return r.query(ctx, "SELECT record FROM runs WHERE created_at < ? ORDER BY created_at, processing_id", cutoff.UnixMicro())
}

// DeleteRun removes a run by processing id.
func (r *RunRepository) DeleteRun(ctx context.Context, processingID string) error {
	if r.closed.Load() {
		return storage.ErrStorageClosed
	}
	res, err := r.db.ExecContext(ctx, "DELETE FROM runs WHERE processing_id = ?", processingID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *RunRepository) query(ctx context.Context, q string, args ...any) ([]*storage.RunRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*storage.RunRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		record, err := storage.UnmarshalRunRecord([]byte(data))
		if err != nil {
			r.logger.Warn("skipping unreadable run record", "err", err)
			continue
		}
		results = append(results, record)
	}
	return results, rows.Err()
}
