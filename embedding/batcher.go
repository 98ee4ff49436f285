package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/poiesic/tabvec/ai"
	"github.com/poiesic/tabvec/core"
)

// Defaults for a new Batcher.
const (
	DefaultModelCacheSize = 4
	DefaultQueryCacheSize = 1024
	DefaultQueryCacheTTL  = 30 * time.Minute
	DefaultBatchSize      = 32
)

// Batcher embeds chunks in batches through cached models.
type Batcher struct {
	loader       ai.Loader
	models       *lru.Cache[string, ai.Embedder]
	queries      *expirable.LRU[string, []float32]
	loadMu       sync.Mutex
	defaultModel string
	loadTimeout  time.Duration
	batchTimeout time.Duration
	maxAttempts  int
	retryDelay   time.Duration
	normalize    bool
	logger       *slog.Logger
}

// Option configures a Batcher.
type Option func(*Batcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Batcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
		return nil
	}
}

// WithModelCacheSize bounds the number of loaded models kept.
// Default is DefaultModelCacheSize.
func WithModelCacheSize(size int) Option {
	return func(b *Batcher) error {
		cache, err := lru.New[string, ai.Embedder](max(size, 1))
		if err != nil {
			return err
		}
		b.models = cache
		return nil
	}
}

// WithQueryCache sets the size and lifetime of the query vector cache.
// A size of zero disables query caching.
func WithQueryCache(size int, ttl time.Duration) Option {
	return func(b *Batcher) error {
		if size <= 0 {
			b.queries = nil
			return nil
		}
		b.queries = expirable.NewLRU[string, []float32](size, nil, ttl)
		return nil
	}
}

// WithDefaultModel sets the model used when a call names none.
func WithDefaultModel(model string) Option {
	return func(b *Batcher) error {
		b.defaultModel = model
		return nil
	}
}

// WithLoadTimeout bounds each model load. Zero disables the bound.
func WithLoadTimeout(d time.Duration) Option {
	return func(b *Batcher) error {
		b.loadTimeout = d
		return nil
	}
}

// WithBatchTimeout bounds each batch attempt. Zero disables the bound.
func WithBatchTimeout(d time.Duration) Option {
	return func(b *Batcher) error {
		b.batchTimeout = d
		return nil
	}
}

// WithRetry retries failed batches with exponential backoff.
// Default is a single attempt.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(b *Batcher) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		b.maxAttempts = maxAttempts
		b.retryDelay = baseDelay
		return nil
	}
}

// WithNormalize scales every vector to unit length.
func WithNormalize(normalize bool) Option {
	return func(b *Batcher) error {
		b.normalize = normalize
		return nil
	}
}

// NewBatcher creates a batcher loading models through loader.
func NewBatcher(loader ai.Loader, opts ...Option) (*Batcher, error) {
	if loader == nil {
		return nil, ErrNilLoader
	}
	models, err := lru.New[string, ai.Embedder](DefaultModelCacheSize)
	if err != nil {
		return nil, err
	}
	b := &Batcher{
		loader:      loader,
		models:      models,
		queries:     expirable.NewLRU[string, []float32](DefaultQueryCacheSize, nil, DefaultQueryCacheTTL),
		maxAttempts: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	b.logger = b.logger.With("component", "embedding")
	return b, nil
}

// Result is the output of an embedding run.
type Result struct {
	Chunks      []core.EmbeddedChunk
	Model       string
	Dimension   int
	TotalChunks int
	BatchSize   int
	Batches     int
	Quality     core.EmbeddingQuality
	Duration    time.Duration
}

// Vectors returns the vectors in chunk order.
func (r *Result) Vectors() [][]float32 {
	out := make([][]float32, len(r.Chunks))
	for i, c := range r.Chunks {
		out[i] = c.Vector
	}
	return out
}

// Summary returns the result's summary record.
func (r *Result) Summary() core.EmbeddingSummary {
	return core.EmbeddingSummary{
		Model:           r.Model,
		VectorDimension: r.Dimension,
		TotalChunks:     r.TotalChunks,
		BatchSize:       r.BatchSize,
		Batches:         r.Batches,
		Quality:         r.Quality,
	}
}

// EmbedOption configures a single Embed call.
type EmbedOption func(*embedCall)

type embedCall struct {
	progress ProgressFunc
}

// WithProgressFunc reports progress after each batch.
func WithProgressFunc(fn ProgressFunc) EmbedOption {
	return func(c *embedCall) {
		c.progress = fn
	}
}

// DefaultModel returns the model used when a call names none.
func (b *Batcher) DefaultModel() string {
	return b.defaultModel
}

func (b *Batcher) resolve(model string) string {
	if model == "" {
		return b.defaultModel
	}
	return model
}

// Model returns the named model, loading it on first use.
// Concurrent first requests for a model load it once.
func (b *Batcher) Model(ctx context.Context, model string) (ai.Embedder, error) {
	model = b.resolve(model)
	if model == "" {
		return nil, core.NewValidationError("model_name", "model name is required")
	}
	if e, ok := b.models.Get(model); ok {
		return e, nil
	}

	b.loadMu.Lock()
	defer b.loadMu.Unlock()
	if e, ok := b.models.Get(model); ok {
		return e, nil
	}

	loadCtx := ctx
	if b.loadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, b.loadTimeout)
		defer cancel()
	}
	start := time.Now()
	e, err := b.loader.Load(loadCtx, model)
	if err != nil {
		b.logger.Error("failed to load model", "model", model, "err", err)
		return nil, &core.EmbeddingError{Model: model, Batch: -1, Err: fmt.Errorf("load model: %w", err)}
	}
	b.models.Add(model, e)
	b.logger.Info("loaded embedding model", "model", model, "duration", time.Since(start))
	return e, nil
}

// Embed embeds chunks in consecutive batches of batchSize. The result holds
// one embedded chunk per input chunk, in input order.
func (b *Batcher) Embed(ctx context.Context, chunks []core.Chunk, model string, batchSize int, opts ...EmbedOption) (*Result, error) {
	start := time.Now()
	call := &embedCall{}
	for _, opt := range opts {
		opt(call)
	}

	if len(chunks) == 0 {
		return nil, core.NewValidationError("chunks", "no chunks to embed")
	}
	if batchSize <= 0 {
		return nil, core.NewValidationError("batch_size", "must be a positive integer, got %d", batchSize)
	}
	model = b.resolve(model)
	embedder, err := b.Model(ctx, model)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	logger := b.logger.With("model", model)
	logger.Info("embedding chunks", "chunks", len(chunks), "batch_size", batchSize)

	vectors := make([][]float32, 0, len(chunks))
	batches := 0
	dim := -1
	for lo := 0; lo < len(texts); lo += batchSize {
		hi := min(lo+batchSize, len(texts))
		batch := batches
		out, err := b.embedBatch(ctx, logger, batch, embedder, texts[lo:hi])
		if err != nil {
			logger.Error("batch failed", "batch", batch, "err", err)
			return nil, &core.EmbeddingError{Model: model, Batch: batch, Err: err}
		}
		for i, v := range out {
			if !core.IsFiniteVector(v) {
				return nil, &core.EmbeddingError{Model: model, Batch: batch, Err: fmt.Errorf("%w: chunk %d", ErrNonFinite, lo+i)}
			}
			if dim < 0 {
				dim = len(v)
			}
			if len(v) != dim || dim == 0 {
				return nil, &core.EmbeddingError{Model: model, Batch: batch,
					Err: fmt.Errorf("%w: chunk %d has %d values, expected %d", ErrInconsistentDimension, lo+i, len(v), dim)}
			}
			if b.normalize {
				v = NormalizeVector(v)
			}
			vectors = append(vectors, v)
		}
		batches++
		logger.Debug("batch complete", "batch", batch, "size", hi-lo)
		if call.progress != nil {
			call.progress(hi, len(texts))
		}
	}

	quality := Assess(vectors)
	if len(quality.ZeroVectors) > 0 {
		logger.Warn("zero vectors produced", "count", len(quality.ZeroVectors))
	}

	now := time.Now().UTC()
	embedded := make([]core.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		embedded[i] = core.EmbeddedChunk{
			Chunk:       c,
			Vector:      vectors[i],
			Model:       model,
			Dimension:   dim,
			GeneratedAt: now,
		}
	}

	return &Result{
		Chunks:      embedded,
		Model:       model,
		Dimension:   dim,
		TotalChunks: len(chunks),
		BatchSize:   batchSize,
		Batches:     batches,
		Quality:     quality,
		Duration:    time.Since(start),
	}, nil
}

// embedBatch runs one batch. A failed attempt is retried after a delay that
// doubles each time, until maxAttempts is reached or ctx is done.
func (b *Batcher) embedBatch(ctx context.Context, logger *slog.Logger, batch int, embedder ai.Embedder, texts []string) ([][]float32, error) {
	delay := b.retryDelay
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors, err := b.attempt(ctx, embedder, texts)
		if err == nil {
			if attempt > 1 {
				logger.Debug("batch succeeded after retry", "batch", batch, "attempt", attempt)
			}
			return vectors, nil
		}
		if attempt >= b.maxAttempts {
			return nil, err
		}
		logger.Warn("batch attempt failed, retrying", "batch", batch, "attempt", attempt, "delay", delay, "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

// attempt encodes texts once, bounded by the batch timeout.
func (b *Batcher) attempt(ctx context.Context, embedder ai.Embedder, texts []string) ([][]float32, error) {
	if b.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.batchTimeout)
		defer cancel()
	}
	vectors, err := embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d, received %d", ErrCountMismatch, len(texts), len(vectors))
	}
	return vectors, nil
}

// EmbedQuery embeds a single search query with the named model.
// Query vectors are cached per model and text.
func (b *Batcher) EmbedQuery(ctx context.Context, model, text string) ([]float32, error) {
	if text == "" {
		return nil, core.NewValidationError("query", "query text is required")
	}
	model = b.resolve(model)
	key := model + "\x00" + text
	if b.queries != nil {
		if v, ok := b.queries.Get(key); ok {
			return append([]float32(nil), v...), nil
		}
	}

	embedder, err := b.Model(ctx, model)
	if err != nil {
		return nil, err
	}
	out, err := b.embedBatch(ctx, b.logger.With("model", model), -1, embedder, []string{text})
	if err != nil {
		return nil, &core.EmbeddingError{Model: model, Batch: -1, Err: err}
	}
	v := out[0]
	if len(v) == 0 {
		return nil, &core.EmbeddingError{Model: model, Batch: -1, Err: fmt.Errorf("%w: empty query vector", ErrInconsistentDimension)}
	}
	if !core.IsFiniteVector(v) {
		return nil, &core.EmbeddingError{Model: model, Batch: -1, Err: ErrNonFinite}
	}
	if b.normalize {
		v = NormalizeVector(v)
	}
	if b.queries != nil {
		b.queries.Add(key, append([]float32(nil), v...))
	}
	return v, nil
}
