package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/tabvec/core"
	"github.com/poiesic/tabvec/embedding"
	"github.com/poiesic/tabvec/storage"
	"github.com/poiesic/tabvec/vectorstore"
)

// DefaultTopK is the number of results returned when a request names none.
const DefaultTopK = 5

// MetricDescriptions describes each supported similarity metric.
var MetricDescriptions = map[vectorstore.Metric]string{
	vectorstore.MetricCosine:    "cosine of the angle between vectors, higher is more similar",
	vectorstore.MetricDot:       "dot product, unbounded, higher is more similar",
	vectorstore.MetricEuclidean: "euclidean distance d reported as 1/(1+d), higher is more similar",
}

// Request is one similarity query.
type Request struct {
	ProcessingID string
	Query        string
	// ModelName overrides the model that embedded the run.
	ModelName string
	TopK      int
	Metric    string
	Filter    vectorstore.Filter
}

// Result is one ranked chunk.
type Result struct {
	Rank            int               `json:"rank"`
	ChunkID         string            `json:"chunk_id"`
	ChunkMethod     string            `json:"chunk_method"`
	SourceFile      string            `json:"source_file"`
	SourceRows      []int             `json:"source_rows,omitempty"`
	Document        string            `json:"document"`
	SimilarityScore float64           `json:"similarity_score"`
	Distance        float64           `json:"distance"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// SearchMetadata describes how a query was answered.
type SearchMetadata struct {
	ProcessingID string             `json:"processing_id"`
	Collection   string             `json:"collection"`
	StoreType    vectorstore.Kind   `json:"store_type"`
	Model        string             `json:"model_name"`
	Metric       vectorstore.Metric `json:"similarity_metric"`
	TopK         int                `json:"top_k"`
	Filter       vectorstore.Filter `json:"filter,omitempty"`
	Duration     time.Duration      `json:"duration"`
}

// Response is the answer to a Request.
type Response struct {
	Success        bool           `json:"success"`
	Query          string         `json:"query"`
	TotalResults   int            `json:"total_results"`
	Results        []Result       `json:"results"`
	SearchMetadata SearchMetadata `json:"search_metadata"`
}

// Retriever searches the collections written by processing runs.
type Retriever struct {
	batcher     *embedding.Batcher
	stores      *vectorstore.Manager
	runs        storage.RunRepository
	defaultKind vectorstore.Kind
	monitor     SearchMonitor
	logger      *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithRunRepository resolves each run's backend and model from repo.
func WithRunRepository(repo storage.RunRepository) Option {
	return func(r *Retriever) error {
		r.runs = repo
		return nil
	}
}

// WithDefaultKind sets the backend searched for runs missing from the
// registry. Default is vectorstore.KindDocument.
func WithDefaultKind(kind vectorstore.Kind) Option {
	return func(r *Retriever) error {
		k, err := vectorstore.ParseKind(string(kind))
		if err != nil {
			return err
		}
		r.defaultKind = k
		return nil
	}
}

// WithMonitor observes every search.
func WithMonitor(monitor SearchMonitor) Option {
	return func(r *Retriever) error {
		if monitor == nil {
			monitor = &noopMonitor{}
		}
		r.monitor = monitor
		return nil
	}
}

// NewRetriever creates a retriever.
func NewRetriever(batcher *embedding.Batcher, stores *vectorstore.Manager, opts ...Option) (*Retriever, error) {
	if batcher == nil {
		return nil, ErrBatcherRequired
	}
	if stores == nil {
		return nil, ErrStoresRequired
	}
	r := &Retriever{
		batcher:     batcher,
		stores:      stores,
		defaultKind: vectorstore.KindDocument,
		monitor:     &noopMonitor{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "retrieval")
	return r, nil
}

type target struct {
	kind  vectorstore.Kind
	model string
}

// resolve finds the backend and model of a run. Runs missing from the
// registry are looked up in the default backend with the default model.
func (r *Retriever) resolve(ctx context.Context, processingID string) (target, error) {
	t := target{kind: r.defaultKind}
	if r.runs == nil {
		return t, nil
	}
	rec, err := r.runs.GetRun(ctx, processingID)
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Debug("run not in registry, using default store", "processing_id", processingID, "kind", t.kind)
		return t, nil
	}
	if err != nil {
		return t, err
	}
	if rec.Status != storage.RunCompleted {
		return t, fmt.Errorf("%w: %w", ErrRunNotCompleted,
			&core.CollectionNotFoundError{Collection: core.CollectionName(processingID)})
	}
	if kind, err := vectorstore.ParseKind(rec.StoreKind); err == nil {
		t.kind = kind
	}
	t.model = rec.Model
	return t, nil
}

func checkRequest(req Request) (Request, vectorstore.Metric, error) {
	req.ProcessingID = strings.TrimSpace(req.ProcessingID)
	if req.ProcessingID == "" {
		return req, "", core.NewValidationError("processing_id", "processing id is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return req, "", core.NewValidationError("query", "query must not be empty")
	}
	if req.TopK <= 0 {
		return req, "", core.NewValidationError("top_k", "must be a positive integer, got %d", req.TopK)
	}
	metric, err := vectorstore.ParseMetric(req.Metric)
	if err != nil {
		return req, "", core.NewValidationError("similarity_metric", "%v", err)
	}
	return req, metric, nil
}

// Search embeds the query with the run's model and returns the TopK most
// similar chunks of the run's collection, rank 1 first.
func (r *Retriever) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	req, metric, err := checkRequest(req)
	if err != nil {
		return nil, err
	}
	r.monitor.Start(req)

	t, err := r.resolve(ctx, req.ProcessingID)
	if err != nil {
		return nil, err
	}
	model := req.ModelName
	if model == "" {
		model = t.model
	}
	if model == "" {
		model = r.batcher.DefaultModel()
	}
	r.monitor.AfterResolve(t.kind, model)

	collection := core.CollectionName(req.ProcessingID)
	store, err := r.stores.Open(t.kind)
	if err != nil {
		return nil, &core.StorageError{Collection: collection, Op: "open", Err: err}
	}
	exists, err := store.Exists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &core.CollectionNotFoundError{Collection: collection}
	}

	query, err := r.batcher.EmbedQuery(ctx, model, req.Query)
	if err != nil {
		r.logger.Error("error generating embedding for query", "processing_id", req.ProcessingID, "err", err)
		return nil, err
	}
	r.monitor.AfterEmbedding(len(query))

	hits, err := store.Search(ctx, collection, query, req.TopK, metric, req.Filter)
	if err != nil {
		r.logger.Error("error searching collection", "collection", collection, "err", err)
		return nil, err
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			Rank:            i + 1,
			ChunkID:         h.ChunkID,
			ChunkMethod:     h.ChunkMethod,
			SourceFile:      h.SourceFile,
			SourceRows:      h.SourceRows,
			Document:        h.Document,
			SimilarityScore: h.Score,
			Distance:        h.Distance,
			Metadata:        h.Metadata,
		}
	}
	resp := &Response{
		Success:      true,
		Query:        req.Query,
		TotalResults: len(results),
		Results:      results,
		SearchMetadata: SearchMetadata{
			ProcessingID: req.ProcessingID,
			Collection:   collection,
			StoreType:    t.kind,
			Model:        model,
			Metric:       metric,
			TopK:         req.TopK,
			Filter:       req.Filter,
			Duration:     time.Since(start),
		},
	}
	r.monitor.Finish(resp)
	r.logger.Debug("search complete", "processing_id", req.ProcessingID, "results", len(results), "metric", metric)
	return resp, nil
}

// Info returns statistics about the collection of a run.
func (r *Retriever) Info(ctx context.Context, processingID string) (vectorstore.Stats, error) {
	if strings.TrimSpace(processingID) == "" {
		return vectorstore.Stats{}, core.NewValidationError("processing_id", "processing id is required")
	}
	t, err := r.resolve(ctx, processingID)
	if err != nil {
		return vectorstore.Stats{}, err
	}
	store, err := r.stores.Open(t.kind)
	if err != nil {
		return vectorstore.Stats{}, err
	}
	return store.Stats(ctx, core.CollectionName(processingID))
}
