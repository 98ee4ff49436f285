// Package janitor removes processing runs older than a retention age: their
// collection, their download files and their registry record.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poiesic/tabvec/core"
	"github.com/poiesic/tabvec/export"
	"github.com/poiesic/tabvec/storage"
	"github.com/poiesic/tabvec/vectorstore"
	"github.com/robfig/cron/v3"
)

// Report summarizes one sweep.
type Report struct {
	Cutoff   time.Time `json:"cutoff"`
	Examined int       `json:"examined"`
	Removed  []string  `json:"removed"`
	Failed   []string  `json:"failed,omitempty"`
}

// Janitor deletes expired runs.
type Janitor struct {
	runs       storage.RunRepository
	stores     *vectorstore.Manager
	maxAge     time.Duration
	exportRoot string
	now        func() time.Time
	logger     *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running atomic.Bool
}

// Option configures a Janitor.
type Option func(*Janitor) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(j *Janitor) error {
		if logger == nil {
			logger = slog.Default()
		}
		j.logger = logger
		return nil
	}
}

// WithExportRoot also removes download files written under root.
func WithExportRoot(root string) Option {
	return func(j *Janitor) error {
		j.exportRoot = root
		return nil
	}
}

// WithClock sets the time source used to compute the cutoff.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) error {
		if now != nil {
			j.now = now
		}
		return nil
	}
}

// NewJanitor creates a janitor removing runs older than maxAge.
func NewJanitor(runs storage.RunRepository, stores *vectorstore.Manager, maxAge time.Duration, opts ...Option) (*Janitor, error) {
	if runs == nil {
		return nil, ErrRunRepositoryRequired
	}
	if stores == nil {
		return nil, ErrStoresRequired
	}
	if maxAge <= 0 {
		return nil, ErrInvalidMaxAge
	}
	j := &Janitor{
		runs:   runs,
		stores: stores,
		maxAge: maxAge,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(j); err != nil {
			return nil, err
		}
	}
	j.logger = j.logger.With("component", "janitor")
	return j, nil
}

// Sweep removes every run created before now minus the retention age.
// A run that cannot be fully removed keeps its registry record so a later
// sweep retries it; the remaining runs are still processed.
func (j *Janitor) Sweep(ctx context.Context) (*Report, error) {
	report := &Report{Cutoff: j.now().UTC().Add(-j.maxAge)}
	expired, err := j.runs.RunsBefore(ctx, report.Cutoff)
	if err != nil {
		return nil, err
	}
	report.Examined = len(expired)

	var errs []error
	for _, rec := range expired {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := j.remove(ctx, rec); err != nil {
			j.logger.Warn("failed to remove run", "processing_id", rec.ProcessingID, "err", err)
			report.Failed = append(report.Failed, rec.ProcessingID)
			errs = append(errs, fmt.Errorf("%s: %w", rec.ProcessingID, err))
			continue
		}
		report.Removed = append(report.Removed, rec.ProcessingID)
	}
	j.logger.Info("sweep complete", "cutoff", report.Cutoff, "examined", report.Examined,
		"removed", len(report.Removed), "failed", len(report.Failed))
	return report, errors.Join(errs...)
}

func (j *Janitor) remove(ctx context.Context, rec *storage.RunRecord) error {
	// Failed runs never kept a collection.
	if rec.Status == storage.RunCompleted {
		kind, err := vectorstore.ParseKind(rec.StoreKind)
		if err != nil {
			return err
		}
		store, err := j.stores.Open(kind)
		if err != nil {
			return err
		}
		collection := rec.Collection
		if collection == "" {
			collection = core.CollectionName(rec.ProcessingID)
		}
		if err := store.Drop(ctx, collection); err != nil && !errors.Is(err, core.ErrCollectionNotFound) {
			return err
		}
	}
	if j.exportRoot != "" {
		if err := export.Remove(j.exportRoot, rec.ProcessingID); err != nil {
			return err
		}
	}
	return j.runs.DeleteRun(ctx, rec.ProcessingID)
}

// Start runs Sweep on a five field cron schedule until Stop is called.
// A sweep still running when the next one is due is skipped.
func (j *Janitor) Start(ctx context.Context, spec string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return ErrAlreadyStarted
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	_, err := c.AddFunc(spec, func() {
		if !j.running.CompareAndSwap(false, true) {
			j.logger.Info("sweep skipped: still running", "schedule", spec)
			return
		}
		defer j.running.Store(false)
		if _, err := j.Sweep(ctx); err != nil {
			j.logger.Error("scheduled sweep failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	j.cron = c
	c.Start()
	j.logger.Info("janitor scheduled", "schedule", spec, "max_age", j.maxAge)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
