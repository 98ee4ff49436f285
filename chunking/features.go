package chunking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/poiesic/tabvec/ai"
	"github.com/poiesic/tabvec/core"
)

// RowVectorizer turns each table row into a feature vector.
type RowVectorizer interface {
	Vectorize(ctx context.Context, table *core.Table) ([][]float64, error)
}

// categoricalBuckets is the width of the hashed one-hot encoding per text column.
const categoricalBuckets = 8

// FeatureVectorizer encodes numeric, boolean and datetime columns as
// standardized values and text columns as hashed one-hot buckets.
type FeatureVectorizer struct{}

func (FeatureVectorizer) Vectorize(ctx context.Context, table *core.Table) ([][]float64, error) {
	n := table.NumRows()
	vectors := make([][]float64, n)
	for i := range vectors {
		vectors[i] = make([]float64, 0, len(table.Columns))
	}

	for idx, col := range table.Columns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch col.Type {
		case core.ColumnEmpty:
			continue
		case core.ColumnText:
			for r, row := range table.Rows {
				buckets := make([]float64, categoricalBuckets)
				if !core.IsNull(row[idx]) {
					key := strings.ToLower(core.FormatValue(row[idx]))
					buckets[uint64(core.IDFromContent(key))%categoricalBuckets] = 1
				}
				vectors[r] = append(vectors[r], buckets...)
			}
		default:
			col := scalarColumn(table, idx)
			standardize(col)
			for r := range vectors {
				vectors[r] = append(vectors[r], col[r])
			}
		}
	}
	if len(vectors) > 0 && len(vectors[0]) == 0 {
		return nil, errors.New("no usable feature columns")
	}
	return vectors, nil
}

// scalarColumn extracts a column as floats; nulls become NaN.
func scalarColumn(table *core.Table, idx int) []float64 {
	out := make([]float64, table.NumRows())
	for r, row := range table.Rows {
		switch x := row[idx].(type) {
		case float64:
			out[r] = x
		case int64:
			out[r] = float64(x)
		case bool:
			if x {
				out[r] = 1
			}
		case time.Time:
			out[r] = float64(x.Unix())
		default:
			out[r] = math.NaN()
		}
	}
	return out
}

// standardize rescales to zero mean and unit variance in place; NaNs become 0.
func standardize(col []float64) {
	var sum float64
	n := 0
	for _, v := range col {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		for i := range col {
			col[i] = 0
		}
		return
	}
	mean := sum / float64(n)
	var ss float64
	for _, v := range col {
		if !math.IsNaN(v) {
			ss += (v - mean) * (v - mean)
		}
	}
	std := math.Sqrt(ss / float64(n))
	for i, v := range col {
		switch {
		case math.IsNaN(v), std == 0:
			col[i] = 0
		default:
			col[i] = (v - mean) / std
		}
	}
}

// EmbeddingVectorizer embeds each row's text with an embedding model.
type EmbeddingVectorizer struct {
	Embedder ai.Embedder
}

func (e EmbeddingVectorizer) Vectorize(ctx context.Context, table *core.Table) ([][]float64, error) {
	texts := rowTexts(table)
	embedded, err := e.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed rows: %w", err)
	}
	if len(embedded) != len(texts) {
		return nil, fmt.Errorf("embed rows: expected %d vectors, received %d", len(texts), len(embedded))
	}
	out := make([][]float64, len(embedded))
	for i, v := range embedded {
		out[i] = make([]float64, len(v))
		for j, x := range v {
			out[i][j] = float64(x)
		}
	}
	return out, nil
}
