package embedding

import (
	"math"

	"github.com/poiesic/tabvec/core"
	"github.com/viant/vec/search"
)

// Assess builds the quality report of a vector set. The dimension is taken
// from the first vector.
func Assess(vectors [][]float32) core.EmbeddingQuality {
	q := core.EmbeddingQuality{
		TotalVectors:        len(vectors),
		DimensionConsistent: true,
	}
	if len(vectors) == 0 {
		return q
	}
	q.Dimension = len(vectors[0])
	q.MinNorm = math.Inf(1)

	var sum float64
	counted := 0
	for i, v := range vectors {
		if len(v) != q.Dimension {
			q.DimensionConsistent = false
		}
		if !core.IsFiniteVector(v) {
			q.NonFiniteVectors = append(q.NonFiniteVectors, i)
			continue
		}
		if core.IsZeroVector(v) {
			q.ZeroVectors = append(q.ZeroVectors, i)
		}
		norm := float64(search.Float32s(v).Magnitude())
		q.MinNorm = math.Min(q.MinNorm, norm)
		q.MaxNorm = math.Max(q.MaxNorm, norm)
		sum += norm
		counted++
	}
	if counted == 0 {
		q.MinNorm = 0
		return q
	}
	q.MeanNorm = sum / float64(counted)
	return q
}
