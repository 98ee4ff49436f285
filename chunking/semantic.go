package chunking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/tabvec/ai"
	"github.com/poiesic/tabvec/core"
)

// Semantic clusters rows by feature similarity. Chunk boundaries follow cluster
// membership, not row order. Chunks are ordered by their first row.
type Semantic struct {
	NClusters     int
	MaxIterations int
	Seed          int64
	vectorizer    RowVectorizer
	logger        *slog.Logger
}

func newSemantic(p Params, rowEmbedder ai.Embedder, logger *slog.Logger) (*Semantic, error) {
	k, err := positiveOrDefault(MethodSemantic, "n_clusters", p.NClusters, DefaultClusters)
	if err != nil {
		return nil, err
	}
	iters, err := positiveOrDefault(MethodSemantic, "max_iterations", p.MaxIterations, DefaultMaxIterations)
	if err != nil {
		return nil, err
	}
	seed := p.Seed
	if seed == 0 {
		seed = DefaultSeed
	}

	var vec RowVectorizer = FeatureVectorizer{}
	if p.UseEmbeddings {
		if rowEmbedder == nil {
			return nil, invalid(MethodSemantic, "use_embeddings", "no row embedder configured")
		}
		vec = EmbeddingVectorizer{Embedder: rowEmbedder}
	}
	return &Semantic{NClusters: k, MaxIterations: iters, Seed: seed, vectorizer: vec, logger: logger}, nil
}

// NewSemantic returns a semantic strategy using a custom vectorizer.
func NewSemantic(nClusters int, vectorizer RowVectorizer) (*Semantic, error) {
	s, err := newSemantic(Params{NClusters: nClusters}, nil, slog.Default().With("component", "chunking", "method", string(MethodSemantic)))
	if err != nil {
		return nil, err
	}
	if vectorizer != nil {
		s.vectorizer = vectorizer
	}
	return s, nil
}

func (s *Semantic) Method() Method { return MethodSemantic }

func (s *Semantic) check(*core.Table) error { return nil }

func (s *Semantic) Chunk(ctx context.Context, table *core.Table) (*Result, error) {
	return run(ctx, s, table, func(ctx context.Context, b *builder) error {
		vectors, err := s.vectorizer.Vectorize(ctx, table)
		if err != nil {
			return fmt.Errorf("vectorize rows: %w", err)
		}
		if len(vectors) != table.NumRows() {
			return fmt.Errorf("vectorizer returned %d vectors for %d rows", len(vectors), table.NumRows())
		}

		labels := kmeans(vectors, s.NClusters, s.MaxIterations, s.Seed)
		clusters := make([][]int, 0, s.NClusters)
		for r, l := range labels {
			if l == len(clusters) {
				clusters = append(clusters, nil)
			}
			clusters[l] = append(clusters[l], r)
		}
		if len(clusters) < s.NClusters {
			s.logger.Info("reduced effective cluster count", "requested", s.NClusters, "effective", len(clusters))
		}
		for i, rows := range clusters {
			b.add(rows, len(rows), map[string]any{
				"cluster":            i,
				"requested_clusters": s.NClusters,
				"effective_clusters": len(clusters),
			})
		}
		return nil
	})
}
