package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/tabvec/chunking"
	"github.com/poiesic/tabvec/core"
	"github.com/poiesic/tabvec/embedding"
	"github.com/poiesic/tabvec/preprocess"
	"github.com/poiesic/tabvec/storage"
	"github.com/poiesic/tabvec/vectorstore"
)

// Pipeline coordinates processing runs on a bounded worker pool.
type Pipeline struct {
	preprocessor   *preprocess.Preprocessor
	batcher        *embedding.Batcher
	stores         *vectorstore.Manager
	runs           storage.RunRepository
	exportRoot     string
	tokens         chunking.TokenCounter
	pool           *ants.Pool
	observers      []Observer
	searchEndpoint string
	wg             sync.WaitGroup
	mu             sync.RWMutex
	released       bool
	logger         *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of runs that execute concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithRunRepository records every finished run in repo.
func WithRunRepository(repo storage.RunRepository) Option {
	return func(p *Pipeline) error {
		p.runs = repo
		return nil
	}
}

// WithExportRoot writes download files under root/downloads for every
// completed run. Without it no files are written.
func WithExportRoot(root string) Option {
	return func(p *Pipeline) error {
		p.exportRoot = root
		return nil
	}
}

// WithTokenCounter sets the token counter for document_based chunking.
func WithTokenCounter(tc chunking.TokenCounter) Option {
	return func(p *Pipeline) error {
		p.tokens = tc
		return nil
	}
}

// WithObserver adds a state change observer.
func WithObserver(obs Observer) Option {
	return func(p *Pipeline) error {
		if obs != nil {
			p.observers = append(p.observers, obs)
		}
		return nil
	}
}

// WithSearchEndpoint sets the format of the search endpoint reported in
// results. The format receives the processing id. Default is "/search/%s".
func WithSearchEndpoint(format string) Option {
	return func(p *Pipeline) error {
		p.searchEndpoint = format
		return nil
	}
}

// NewPipeline creates a pipeline.
func NewPipeline(batcher *embedding.Batcher, stores *vectorstore.Manager, opts ...Option) (*Pipeline, error) {
	if batcher == nil {
		return nil, ErrBatcherRequired
	}
	if stores == nil {
		return nil, ErrStoresRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		batcher:        batcher,
		stores:         stores,
		pool:           pool,
		searchEndpoint: "/search/%s",
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "pipeline")
	p.preprocessor = preprocess.New(preprocess.WithLogger(p.logger))
	return p, nil
}

// Submit validates req and schedules the run. Validation failures are
// returned directly and no run is started. The run is cancelled if ctx is
// done before its worker starts; once started, cancellation is checked
// between stages only.
func (p *Pipeline) Submit(ctx context.Context, req Request) (*Job, error) {
	if err := core.ValidateTable(req.Table); err != nil {
		return nil, err
	}
	cfg, err := req.Config.Resolve()
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.released {
		return nil, ErrReleased
	}

	r := &run{
		id:       core.NewProcessingID(),
		state:    StateReceived,
		received: time.Now().UTC(),
		source:   req.SourceFile,
		cfg:      cfg,
		progress: req.Progress,
		table:    req.Table,
	}
	r.job = newJob(r.id)
	p.notify(Event{ProcessingID: r.id, To: StateReceived, At: r.received})
	p.logger.Info("run received", "processing_id", r.id, "source_file", r.source,
		"mode", cfg.Mode, "method", cfg.Method, "store", cfg.Kind)

	p.wg.Add(1)
	task := func() {
		defer p.wg.Done()
		result, err := p.execute(ctx, r)
		r.job.finish(result, err)
	}
	go func() {
		// ants blocks until a worker is free; the run stays queued meanwhile
		if err := p.pool.Submit(task); err != nil {
			defer p.wg.Done()
			r.job.finish(nil, p.fail(r, StateReceived, err))
		}
	}()
	return r.job, nil
}

// Process submits req and waits for its result.
func (p *Pipeline) Process(ctx context.Context, req Request) (*core.ProcessingResult, error) {
	job, err := p.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return job.Wait(ctx)
}

// Running returns the number of runs currently executing.
func (p *Pipeline) Running() int {
	return p.pool.Running()
}

// Release waits for submitted runs to finish and releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.mu.Unlock()

	p.wg.Wait()
	if p.pool != nil {
		p.pool.Release()
	}
}

func (p *Pipeline) notify(ev Event) {
	for _, obs := range p.observers {
		obs(ev)
	}
}

// transition moves r to state, enforcing the state machine.
func (p *Pipeline) transition(r *run, to State) error {
	if err := checkTransition(r.state, to); err != nil {
		return err
	}
	from := r.state
	r.state = to
	r.job.setState(to)
	p.notify(Event{ProcessingID: r.id, From: from, To: to, At: time.Now().UTC()})
	return nil
}

// fail moves r to failed and returns the annotated error.
func (p *Pipeline) fail(r *run, stage State, err error) error {
	serr := &StageError{Stage: stage, ProcessingID: r.id, Err: err}
	if r.state.Terminal() {
		return serr
	}
	from := r.state
	r.state = StateFailed
	r.job.setState(StateFailed)
	p.notify(Event{ProcessingID: r.id, From: from, To: StateFailed, At: time.Now().UTC(), Err: serr})
	p.logger.Error("run failed", "processing_id", r.id, "stage", stage, "err", err)
	p.recordRun(r, nil, serr)
	return serr
}

// execute runs every stage of r in order.
func (p *Pipeline) execute(ctx context.Context, r *run) (*core.ProcessingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, p.fail(r, StateReceived, err)
	}
	// In-flight stages are never interrupted; ctx is consulted between them.
	stageCtx := context.WithoutCancel(ctx)

	stages := []struct {
		state State
		fn    func(context.Context, *run) error
	}{
		{StatePreprocessing, p.preprocess},
		{StateChunking, p.chunk},
		{StateEmbedding, p.embed},
		{StateStoring, p.store},
	}
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, p.fail(r, st.state, err)
		}
		if err := p.transition(r, st.state); err != nil {
			return nil, p.fail(r, st.state, err)
		}
		start := time.Now().UTC()
		err := st.fn(stageCtx, r)
		r.record(st.state, start, time.Now().UTC())
		if err != nil {
			return nil, p.fail(r, st.state, err)
		}
	}

	result := r.result(fmt.Sprintf(p.searchEndpoint, r.id))
	if err := p.export(r, result); err != nil {
		p.dropCollection(r)
		return nil, p.fail(r, StateStoring, err)
	}
	if err := p.transition(r, StateCompleted); err != nil {
		return nil, p.fail(r, StateStoring, err)
	}
	p.recordRun(r, result, nil)
	p.logger.Info("run completed", "processing_id", r.id, "chunks", result.Chunking.TotalChunks,
		"method", result.Chunking.Method, "duration", result.TotalDuration)
	return result, nil
}

// recordRun saves the run in the registry. Registry failures are logged and
// do not change the run's outcome.
func (p *Pipeline) recordRun(r *run, result *core.ProcessingResult, runErr error) {
	if p.runs == nil {
		return
	}
	rec := &storage.RunRecord{
		ProcessingID: r.id,
		SourceFile:   r.source,
		StoreKind:    string(r.cfg.Kind),
		Collection:   core.CollectionName(r.id),
		Model:        r.cfg.Model,
		Status:       storage.RunCompleted,
		CreatedAt:    r.received,
		Result:       result,
	}
	if r.embedded != nil {
		rec.Model = r.embedded.Model
	}
	if result != nil {
		rec.Location = result.Storage.Location
	}
	if runErr != nil {
		rec.Status = storage.RunFailed
		rec.Error = runErr.Error()
		if serr, ok := runErr.(*StageError); ok {
			rec.Stage = string(serr.Stage)
		}
	}
	if err := p.runs.SaveRun(context.Background(), rec); err != nil {
		p.logger.Error("failed to record run", "processing_id", r.id, "err", err)
	}
}
