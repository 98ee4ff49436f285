package vectorstore

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/poiesic/tabvec/core"
	"github.com/viant/vec/search"
)

// Metric is a similarity function.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
	MetricDot       Metric = "dot"
)

// ParseMetric validates a metric name. An empty name selects cosine;
// "l2" and "ip" are accepted aliases.
func ParseMetric(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cosine":
		return MetricCosine, nil
	case "euclidean", "l2":
		return MetricEuclidean, nil
	case "dot", "ip", "inner_product":
		return MetricDot, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, name)
}

// Scorer scores candidate vectors against one query.
type Scorer struct {
	metric    Metric
	query     search.Float32s
	magnitude float32
}

// NewScorer prepares a scorer for query.
func NewScorer(metric Metric, query []float32) (*Scorer, error) {
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	if metric == "" {
		metric = MetricCosine
	}
	q := search.Float32s(query)
	return &Scorer{metric: metric, query: q, magnitude: q.Magnitude()}, nil
}

// Score returns the similarity (higher is closer) and distance of v.
// Cosine distance is 1 - similarity, Euclidean similarity is 1 / (1 + d)
// and dot distance is the negated product.
func (s *Scorer) Score(v []float32) (score, distance float64) {
	switch s.metric {
	case MetricEuclidean:
		d := float64(s.query.EuclideanDistance(v))
		return 1 / (1 + d), d
	case MetricDot:
		var dot float64
		for i := range s.query {
			dot += float64(s.query[i]) * float64(v[i])
		}
		return dot, -dot
	default:
		m := search.Float32s(v).Magnitude()
		if s.magnitude == 0 || m == 0 {
			return 0, 1
		}
		d := float64(s.query.CosineDistance(v))
		return 1 - d, d
	}
}

// Rank scores entries and returns at most topK hits in descending score
// order. Ties keep insertion order. Every entry must have the query's
// dimension.
func Rank(entries []Entry, query []float32, topK int, metric Metric) ([]Hit, error) {
	scorer, err := NewScorer(metric, query)
	if err != nil {
		return nil, err
	}

	type scored struct {
		entry    *Entry
		score    float64
		distance float64
	}
	all := make([]scored, 0, len(entries))
	for i := range entries {
		if len(entries[i].Vector) != len(query) {
			return nil, &core.DimensionMismatchError{Expected: len(query), Actual: len(entries[i].Vector)}
		}
		score, distance := scorer.Score(entries[i].Vector)
		if math.IsNaN(score) {
			score = math.Inf(-1)
		}
		all = append(all, scored{entry: &entries[i], score: score, distance: distance})
	}
	slices.SortStableFunc(all, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.entry.Seq, b.entry.Seq)
	})
	if len(all) > topK {
		all = all[:topK]
	}

	hits := make([]Hit, len(all))
	for i, s := range all {
		e := s.entry
		hits[i] = Hit{
			ChunkID:     e.ChunkID,
			Document:    e.Document,
			ChunkMethod: e.ChunkMethod,
			SourceFile:  e.SourceFile,
			SourceRows:  e.SourceRows,
			Metadata:    e.Metadata,
			Score:       s.score,
			Distance:    s.distance,
		}
	}
	return hits, nil
}
