package chunking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/tabvec/ai"
	"github.com/poiesic/tabvec/core"
)

// Method names a chunking strategy.
type Method string

const (
	MethodFixed         Method = "fixed"
	MethodRecursive     Method = "recursive"
	MethodSemantic      Method = "semantic"
	MethodDocumentBased Method = "document_based"
)

// Methods lists every supported method.
var Methods = []Method{MethodFixed, MethodRecursive, MethodSemantic, MethodDocumentBased}

// ParseMethod validates a method name.
func ParseMethod(name string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", &core.InvalidParameterError{Method: name, Reason: "unsupported chunking method"}
}

// Default parameter values.
const (
	DefaultFixedChunkSize     = 100
	DefaultRecursiveChunkSize = 400
	DefaultClusters           = 5
	DefaultMaxIterations      = 100
	DefaultSeed               = 42
	DefaultTokenLimit         = 2000
)

// Null key policies for document_based chunking.
const (
	NullKeyGroup    = "group"
	NullKeySeparate = "separate"
)

// Strategy is one chunking method with validated parameters.
type Strategy interface {
	// Method returns the strategy's method name.
	Method() Method

	// Chunk splits the table. Runtime failures are returned as core.ChunkingError.
	Chunk(ctx context.Context, table *core.Table) (*Result, error)

	// check validates table-dependent parameters before any work starts.
	check(table *core.Table) error
}

// ChunkMetadata is the per-chunk metadata record.
type ChunkMetadata struct {
	ChunkID    string `json:"chunk_id"`
	Method     string `json:"method"`
	Size       int    `json:"size"`
	SourceRows []int  `json:"source_rows"`
}

// Result is the output of a chunking run.
type Result struct {
	Method   Method
	Chunks   []core.Chunk
	Quality  core.ChunkQuality
	Duration time.Duration
}

// Metadata returns the metadata record of every chunk in order.
func (r *Result) Metadata() []ChunkMetadata {
	out := make([]ChunkMetadata, len(r.Chunks))
	for i, c := range r.Chunks {
		out[i] = ChunkMetadata{ChunkID: c.ID, Method: c.Method, Size: c.Size, SourceRows: c.SourceRows}
	}
	return out
}

// SourceMapping maps chunk ids to their source rows.
func (r *Result) SourceMapping() map[string][]int {
	out := make(map[string][]int, len(r.Chunks))
	for _, c := range r.Chunks {
		out[c.ID] = c.SourceRows
	}
	return out
}

// Option configures strategy construction.
type Option func(*settings)

type settings struct {
	logger      *slog.Logger
	tokens      TokenCounter
	rowEmbedder ai.Embedder
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTokenCounter sets the token counter used by document_based chunking.
// Default is ApproxCounter.
func WithTokenCounter(tc TokenCounter) Option {
	return func(s *settings) {
		if tc != nil {
			s.tokens = tc
		}
	}
}

// WithRowEmbedder sets the embedder used by semantic chunking when
// use_embeddings is enabled.
func WithRowEmbedder(e ai.Embedder) Option {
	return func(s *settings) {
		s.rowEmbedder = e
	}
}

// New builds the strategy for method. All parameters are validated here.
func New(method Method, params Params, opts ...Option) (Strategy, error) {
	s := &settings{logger: slog.Default(), tokens: ApproxCounter{}}
	for _, opt := range opts {
		opt(s)
	}
	logger := s.logger.With("component", "chunking", "method", string(method))

	switch method {
	case MethodFixed:
		return newFixed(params, logger)
	case MethodRecursive:
		return newRecursive(params, logger)
	case MethodSemantic:
		return newSemantic(params, s.rowEmbedder, logger)
	case MethodDocumentBased:
		return newDocumentBased(params, s.tokens, logger)
	}
	return nil, &core.InvalidParameterError{Method: string(method), Reason: "unsupported chunking method"}
}

// Chunk builds the strategy for method and runs it over the table.
func Chunk(ctx context.Context, table *core.Table, method Method, params Params, opts ...Option) (*Result, error) {
	s, err := New(method, params, opts...)
	if err != nil {
		return nil, err
	}
	return s.Chunk(ctx, table)
}

// run validates the input, executes split and assembles the result.
// Panics inside split are reported as chunking errors.
func run(ctx context.Context, s Strategy, table *core.Table, split func(ctx context.Context, b *builder) error) (res *Result, err error) {
	start := time.Now()
	if err := core.ValidateTable(table); err != nil {
		return nil, err
	}
	if err := s.check(table); err != nil {
		return nil, err
	}

	b := &builder{method: s.Method(), table: table, texts: rowTexts(table)}
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &core.ChunkingError{Method: string(s.Method()), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := split(ctx, b); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &core.ChunkingError{Method: string(s.Method()), Err: err}
	}
	if len(b.chunks) == 0 {
		return nil, &core.ChunkingError{Method: string(s.Method()), Err: fmt.Errorf("no chunks produced")}
	}

	return &Result{
		Method:   s.Method(),
		Chunks:   b.chunks,
		Quality:  Assess(b.chunks, table.NumRows()),
		Duration: time.Since(start),
	}, nil
}

// builder accumulates chunks and assigns sequential identifiers.
type builder struct {
	method Method
	table  *core.Table
	texts  []string
	chunks []core.Chunk
}

// add appends a chunk built from rows.
func (b *builder) add(rows []int, size int, extra map[string]any) {
	b.chunks = append(b.chunks, core.Chunk{
		ID:         ChunkID(b.method, len(b.chunks)),
		Text:       b.join(rows),
		SourceRows: rows,
		Method:     string(b.method),
		Size:       size,
		Extra:      extra,
	})
}

func (b *builder) join(rows []int) string {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = b.texts[r]
	}
	return strings.Join(parts, "\n")
}

// ChunkID formats the identifier of the index-th chunk of a method.
func ChunkID(method Method, index int) string {
	return fmt.Sprintf("%s_chunk_%04d", method, index)
}

func rowRange(lo, hi int) []int {
	rows := make([]int, hi-lo)
	for i := range rows {
		rows[i] = lo + i
	}
	return rows
}
