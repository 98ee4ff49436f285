package chunking

import (
	"math"

	"github.com/poiesic/tabvec/core"
)

// Quality labels.
const (
	QualityExcellent = "EXCELLENT"
	QualityGood      = "GOOD"
	QualityFair      = "FAIR"
	QualityPoor      = "POOR"
)

// Assess scores a chunking result by row coverage and size distribution.
// Sizes are measured in source rows regardless of method.
func Assess(chunks []core.Chunk, originalRows int) core.ChunkQuality {
	q := core.ChunkQuality{
		TotalChunks:  len(chunks),
		OriginalRows: originalRows,
	}
	if len(chunks) == 0 {
		q.OverallQuality = QualityPoor
		return q
	}

	sizes := make([]float64, len(chunks))
	q.SizeStats.Min = math.MaxInt
	for i, c := range chunks {
		n := len(c.SourceRows)
		sizes[i] = float64(n)
		q.TotalRowsProcessed += n
		q.SizeStats.Min = min(q.SizeStats.Min, n)
		q.SizeStats.Max = max(q.SizeStats.Max, n)
		switch {
		case n == 0:
			q.EmptyChunks++
		case n < 3:
			q.VerySmallChunks++
		}
		if float64(n) > float64(originalRows)*0.8 {
			q.VeryLargeChunks++
		}
	}
	if originalRows > 0 {
		q.Coverage = float64(q.TotalRowsProcessed) / float64(originalRows)
	}

	var sum float64
	for _, s := range sizes {
		sum += s
	}
	q.SizeStats.Mean = sum / float64(len(sizes))
	for _, s := range sizes {
		q.SizeStats.Variance += (s - q.SizeStats.Mean) * (s - q.SizeStats.Mean)
	}
	q.SizeStats.Variance /= float64(len(sizes))
	q.SizeStats.Std = math.Sqrt(q.SizeStats.Variance)

	score := 1.0
	if q.Coverage < 0.95 {
		score -= (0.95 - q.Coverage) * 2
	}
	score -= float64(q.EmptyChunks) * 0.1
	score -= float64(q.VerySmallChunks) * 0.05
	score -= float64(q.VeryLargeChunks) * 0.2
	if q.SizeStats.Std > q.SizeStats.Mean*0.5 {
		score -= 0.1
	}
	q.QualityScore = math.Max(0, math.Min(1, score))

	switch {
	case q.QualityScore >= 0.8:
		q.OverallQuality = QualityExcellent
	case q.QualityScore >= 0.6:
		q.OverallQuality = QualityGood
	case q.QualityScore >= 0.4:
		q.OverallQuality = QualityFair
	default:
		q.OverallQuality = QualityPoor
	}
	return q
}
