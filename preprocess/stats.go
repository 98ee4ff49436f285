package preprocess

import (
	"math"
	"slices"

	"github.com/poiesic/tabvec/core"
)

// NumericStats summarizes one numeric column.
type NumericStats struct {
	Count     int     `json:"count"`
	Mean      float64 `json:"mean"`
	Std       float64 `json:"std"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Median    float64 `json:"median"`
	NullCount int     `json:"null_count"`
}

// numericValues returns the non-null values of column idx as floats.
func numericValues(t *core.Table, idx int) ([]float64, int) {
	vals := make([]float64, 0, len(t.Rows))
	nulls := 0
	for _, row := range t.Rows {
		switch x := row[idx].(type) {
		case float64:
			vals = append(vals, x)
		case int64:
			vals = append(vals, float64(x))
		default:
			if core.IsNull(x) {
				nulls++
			}
		}
	}
	return vals, nulls
}

func computeStats(vals []float64, nulls int) NumericStats {
	s := NumericStats{Count: len(vals), NullCount: nulls}
	if len(vals) == 0 {
		return s
	}
	s.Mean = mean(vals)
	s.Median = median(vals)
	s.Min, s.Max = vals[0], vals[0]
	for _, v := range vals {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	if len(vals) > 1 {
		var ss float64
		for _, v := range vals {
			d := v - s.Mean
			ss += d * d
		}
		s.Std = math.Sqrt(ss / float64(len(vals)-1))
	}
	return s
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func median(vals []float64) float64 {
	sorted := slices.Clone(vals)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
