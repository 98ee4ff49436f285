package badger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/tabvec/storage"
)

// RunRepository implements storage.RunRepository for BadgerDB.
type RunRepository struct {
	backend *Backend
}

var _ storage.RunRepository = (*RunRepository)(nil)

// NewRunRepository creates a new RunRepository.
func NewRunRepository(backend *Backend) *RunRepository {
	return &RunRepository{backend: backend}
}

// Open opens a badger run registry at dir.
func Open(dir string, logger *slog.Logger) (*RunRepository, error) {
	backend, err := OpenBackend(dir, false, logger)
	if err != nil {
		return nil, err
	}
	return NewRunRepository(backend), nil
}

// Close closes the backend.
func (r *RunRepository) Close() error {
	if r.backend.IsClosed() {
		return nil
	}
	return r.backend.Close()
}

// SaveRun inserts or replaces a run record.
func (r *RunRepository) SaveRun(ctx context.Context, record *storage.RunRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	value, err := storage.MarshalRunRecord(record)
	if err != nil {
		return err
	}
	return r.backend.WithTransaction(ctx, func(ctx context.Context, tx *badger.Txn) error {
		key := makeRunKey(record.ProcessingID)

		old, err := readRunRecord(tx, key)
		if err != nil {
			return err
		}
		if old != nil && !old.CreatedAt.Equal(record.CreatedAt) {
			if err := tx.Delete(makeRunDateKey(old.CreatedAt, old.ProcessingID)); err != nil {
				return err
			}
		}

		if err := tx.Set(key, value); err != nil {
			return err
		}
		dateKey := makeRunDateKey(record.CreatedAt, record.ProcessingID)
		return tx.Set(dateKey, []byte(record.ProcessingID))
	})
}

// GetRun retrieves a run by processing id.
func (r *RunRepository) GetRun(ctx context.Context, processingID string) (*storage.RunRecord, error) {
	if r.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	var result *storage.RunRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readRunRecord(tx, makeRunKey(processingID))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// ListRuns returns up to limit runs, most recent first.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]*storage.RunRecord, error) {
	if r.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	var results []*storage.RunRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		prefix := []byte(runRecordDatePrefix)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		// Seek past the last possible key with this prefix
		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for iter.Seek(seekKey); iter.ValidForPrefix(prefix); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			record, err := r.resolveDateEntry(tx, iter.Item())
			if err != nil {
				return err
			}
			if record == nil {
				continue
			}
			results = append(results, record)
			if limit > 0 && len(results) >= limit {
				break
			}
		}
		return nil
	}, false)
	return results, err
}

// RunsBefore returns runs created strictly before cutoff, oldest first.
func (r *RunRepository) RunsBefore(ctx context.Context, cutoff time.Time) ([]*storage.RunRecord, error) {
	if r.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	var results []*storage.RunRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		prefix := []byte(runRecordDatePrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		end := makePartialRunDateKey(cutoff)
		for iter.Rewind(); iter.ValidForPrefix(prefix); iter.Next() {
			if bytes.Compare(iter.Item().Key(), end) >= 0 {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			record, err := r.resolveDateEntry(tx, iter.Item())
			if err != nil {
				return err
			}
			if record != nil && record.CreatedAt.Before(cutoff) {
				results = append(results, record)
			}
		}
		return nil
	}, false)
	return results, err
}

// DeleteRun removes a run and its date index entry.
func (r *RunRepository) DeleteRun(ctx context.Context, processingID string) error {
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return r.backend.WithTransaction(ctx, func(ctx context.Context, tx *badger.Txn) error {
		key := makeRunKey(processingID)
		record, err := readRunRecord(tx, key)
		if err != nil {
			return err
		}
		if record == nil {
			return storage.ErrNotFound
		}
		if err := tx.Delete(makeRunDateKey(record.CreatedAt, record.ProcessingID)); err != nil {
			return err
		}
		return tx.Delete(key)
	})
}

// resolveDateEntry loads the record a date index item points at.
// Dangling index entries are logged and skipped.
func (r *RunRepository) resolveDateEntry(tx *badger.Txn, item *badger.Item) (*storage.RunRecord, error) {
	id, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	record, err := readRunRecord(tx, makeRunKey(string(id)))
	if err != nil {
		return nil, err
	}
	if record == nil {
		r.backend.logger.Warn("dangling run index entry", "processing_id", string(id))
	}
	return record, nil
}

// readRunRecord reads a run record, returning nil when the key is absent.
func readRunRecord(tx *badger.Txn, key []byte) (*storage.RunRecord, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var record *storage.RunRecord
	err = item.Value(func(val []byte) error {
		var err error
		record, err = storage.UnmarshalRunRecord(val)
		return err
	})
	return record, err
}
