// Package storetest holds the behavior tests shared by every vectorstore backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/poiesic/tabvec/core"
	"github.com/poiesic/tabvec/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Chunk builds an embedded chunk for tests.
func Chunk(id string, vector ...float32) core.EmbeddedChunk {
	return core.EmbeddedChunk{
		Chunk: core.Chunk{
			ID:         id,
			Text:       "text of " + id,
			SourceRows: []int{0},
			Method:     "fixed",
			Size:       1,
			Extra:      map[string]any{"start_row": 0},
		},
		Vector:    vector,
		Model:     "test-model",
		Dimension: len(vector),
	}
}

// cancelAfter is a context that reports cancellation once Err has been
// called more than n times.
type cancelAfter struct {
	context.Context
	n     int32
	calls atomic.Int32
}

func (c *cancelAfter) Err() error {
	if c.calls.Add(1) > c.n {
		return context.Canceled
	}
	return nil
}

// Run exercises the Store contract. open must return a fresh store rooted in
// a new directory on every call with the same dir.
func Run(t *testing.T, open func(t *testing.T, dir string) vectorstore.Store) {
	ctx := context.Background()

	t.Run("search unknown collection", func(t *testing.T) {
		s := open(t, t.TempDir())
		_, err := s.Search(ctx, "collection_missing", []float32{1, 0}, 3, vectorstore.MetricCosine, nil)
		assert.ErrorIs(t, err, core.ErrCollectionNotFound)

		ok, err := s.Exists(ctx, "collection_missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("empty collection returns no hits", func(t *testing.T) {
		s := open(t, t.TempDir())
		require.NoError(t, s.Upsert(ctx, "collection_empty", nil, "data.csv"))

		hits, err := s.Search(ctx, "collection_empty", []float32{1, 0}, 3, vectorstore.MetricCosine, nil)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("upsert then search ranks by similarity", func(t *testing.T) {
		s := open(t, t.TempDir())
		require.NoError(t, s.Upsert(ctx, "c", []core.EmbeddedChunk{
			Chunk("a", 1, 0),
			Chunk("b", 0.7, 0.7),
			Chunk("c", 0, 1),
		}, "data.csv"))

		hits, err := s.Search(ctx, "c", []float32{1, 0}, 2, vectorstore.MetricCosine, nil)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "a", hits[0].ChunkID)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
		assert.Equal(t, "b", hits[1].ChunkID)
		assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
		assert.Equal(t, "text of a", hits[0].Document)
		assert.Equal(t, "fixed", hits[0].ChunkMethod)
		assert.Equal(t, "data.csv", hits[0].SourceFile)
		assert.Equal(t, "test-model", hits[0].Metadata["model"])
	})

	t.Run("metrics", func(t *testing.T) {
		s := open(t, t.TempDir())
		require.NoError(t, s.Upsert(ctx, "c", []core.EmbeddedChunk{
			Chunk("near", 1, 1),
			Chunk("far", 5, 5),
		}, ""))

		euclid, err := s.Search(ctx, "c", []float32{1, 1}, 2, vectorstore.MetricEuclidean, nil)
		require.NoError(t, err)
		require.Len(t, euclid, 2)
		assert.Equal(t, "near", euclid[0].ChunkID)
		assert.InDelta(t, 0, euclid[0].Distance, 1e-6)
		assert.InDelta(t, 1, euclid[0].Score, 1e-6)

		dot, err := s.Search(ctx, "c", []float32{1, 1}, 2, vectorstore.MetricDot, nil)
		require.NoError(t, err)
		assert.Equal(t, "far", dot[0].ChunkID)
		assert.InDelta(t, 10, dot[0].Score, 1e-5)
	})

	t.Run("ties keep insertion order", func(t *testing.T) {
		s := open(t, t.TempDir())
		require.NoError(t, s.Upsert(ctx, "c", []core.EmbeddedChunk{Chunk("z", 1, 0), Chunk("y", 1, 0)}, ""))
		require.NoError(t, s.Upsert(ctx, "c", []core.EmbeddedChunk{Chunk("x", 1, 0)}, ""))

		hits, err := s.Search(ctx, "c", []float32{1, 0}, 3, vectorstore.MetricCosine, nil)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, []string{"z", "y", "x"}, []string{hits[0].ChunkID, hits[1].ChunkID, hits[2].ChunkID})
	})

	t.Run("re-upsert replaces without duplicating", func(t *testing.T) {
		s := open(t, t.TempDir())
		require.NoError(t, s.Upsert(ctx, "c", []core.EmbeddedChunk{Chunk("a", 1, 0), Chunk("b", 0, 1)}, ""))
		require.NoError(t, s.Upsert(ctx, "c", []core.EmbeddedChunk{Chunk("a", 0, 1)}, ""))

		hits, err := s.Search(ctx, "c", []float32{0, 1}, 10, vectorstore.MetricCosine, nil)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "a", hits[0].ChunkID, "tie resolved by original insertion order")
		assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
		assert.InDelta(t, 1.0, hits[1].Score, 1e-5)

		stats, err := s.Stats(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Count)
		assert.Equal(t, 2, stats.Dimension)
		assert.Equal(t, s.Kind(), stats.Kind)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		s := open(t, t.TempDir())
		require.NoError(t, s.Upsert(ctx, "c", []core.EmbeddedChunk{Chunk("a", 1, 0)}, ""))

		err := s.Upsert(ctx, "c", []core.EmbeddedChunk{Chunk("b", 1, 0, 0)}, "")
		assert.ErrorIs(t, err, core.ErrStorage)
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)

		_, err = s.Search(ctx, "c", []float32{1, 0, 0}, 1, vectorstore.MetricCosine, nil)
		var dm *core.DimensionMismatchError
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 2, dm.Expected)
		assert.Equal(t, 3, dm.Actual)
	})

	t.Run("cancelled upsert keeps the dimension", func(t *testing.T) {
		s := open(t, t.TempDir())
		chunks := []core.EmbeddedChunk{Chunk("a", 1, 0), Chunk("b", 0, 1), Chunk("c", 1, 1)}
		err := s.Upsert(&cancelAfter{Context: ctx, n: 1}, "c", chunks, "")
		require.ErrorIs(t, err, context.Canceled)

		stats, err := s.Stats(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Dimension)
		assert.Less(t, stats.Count, len(chunks))

		err = s.Upsert(ctx, "c", []core.EmbeddedChunk{Chunk("d", 1, 0, 0)}, "")
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)

		for _, metric := range []vectorstore.Metric{vectorstore.MetricCosine, vectorstore.MetricDot, vectorstore.MetricEuclidean} {
			_, err := s.Search(ctx, "c", []float32{1, 0}, 3, metric, nil)
			require.NoError(t, err)
		}

		require.NoError(t, s.Upsert(ctx, "c", chunks, ""))
		stats, err = s.Stats(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, len(chunks), stats.Count)
		assert.Equal(t, 2, stats.Dimension)
	})

	t.Run("invalid top k", func(t *testing.T) {
		s := open(t, t.TempDir())
		require.NoError(t, s.Upsert(ctx, "c", []core.EmbeddedChunk{Chunk("a", 1, 0)}, ""))
		_, err := s.Search(ctx, "c", []float32{1, 0}, 0, vectorstore.MetricCosine, nil)
		assert.ErrorIs(t, err, core.ErrValidation)
	})

	t.Run("filter", func(t *testing.T) {
		s := open(t, t.TempDir())
		a := Chunk("a", 1, 0)
		b := Chunk("b", 1, 0)
		b.Method = "semantic"
		b.Extra = map[string]any{"cluster": 2}
		require.NoError(t, s.Upsert(ctx, "c", []core.EmbeddedChunk{a, b}, "data.csv"))

		hits, err := s.Search(ctx, "c", []float32{1, 0}, 5, vectorstore.MetricCosine, vectorstore.Filter{"chunk_method": "semantic"})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "b", hits[0].ChunkID)

		hits, err = s.Search(ctx, "c", []float32{1, 0}, 5, vectorstore.MetricCosine, vectorstore.Filter{"cluster": "2", "source_file": "data.csv"})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "b", hits[0].ChunkID)

		hits, err = s.Search(ctx, "c", []float32{1, 0}, 5, vectorstore.MetricCosine, vectorstore.Filter{"source_file": "other.csv"})
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("persist survives reopen", func(t *testing.T) {
		dir := t.TempDir()
		s := open(t, dir)
		require.NoError(t, s.Upsert(ctx, "c", []core.EmbeddedChunk{Chunk("a", 1, 0), Chunk("b", 0, 1)}, "data.csv"))
		location, err := s.Persist(ctx, "c")
		require.NoError(t, err)
		assert.NotEmpty(t, location)
		require.NoError(t, s.Close())

		reopened := open(t, dir)
		hits, err := reopened.Search(ctx, "c", []float32{0, 1}, 1, vectorstore.MetricCosine, nil)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "b", hits[0].ChunkID)
		assert.Equal(t, []int{0}, hits[0].SourceRows)

		require.NoError(t, reopened.Upsert(ctx, "c", []core.EmbeddedChunk{Chunk("c", 0, 1)}, ""))
		hits, err = reopened.Search(ctx, "c", []float32{0, 1}, 3, vectorstore.MetricCosine, nil)
		require.NoError(t, err)
		assert.Equal(t, "b", hits[0].ChunkID, "new entries sort after persisted ones")

		names, err := reopened.Collections(ctx)
		require.NoError(t, err)
		assert.Contains(t, names, "c")
	})

	t.Run("drop", func(t *testing.T) {
		s := open(t, t.TempDir())
		require.NoError(t, s.Upsert(ctx, "c", []core.EmbeddedChunk{Chunk("a", 1, 0)}, ""))
		_, err := s.Persist(ctx, "c")
		require.NoError(t, err)

		require.NoError(t, s.Drop(ctx, "c"))
		ok, err := s.Exists(ctx, "c")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.ErrorIs(t, s.Drop(ctx, "c"), core.ErrCollectionNotFound)
	})

	t.Run("invalid collection name", func(t *testing.T) {
		s := open(t, t.TempDir())
		err := s.Upsert(ctx, "../escape", []core.EmbeddedChunk{Chunk("a", 1)}, "")
		assert.ErrorIs(t, err, core.ErrValidation)
	})

	t.Run("concurrent upserts to different collections", func(t *testing.T) {
		s := open(t, t.TempDir())
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				name := fmt.Sprintf("collection_%d", i)
				chunks := make([]core.EmbeddedChunk, 10)
				for j := range chunks {
					chunks[j] = Chunk(fmt.Sprintf("chunk_%d", j), float32(j+1), float32(i))
				}
				assert.NoError(t, s.Upsert(ctx, name, chunks, ""))
			}(i)
		}
		wg.Wait()

		for i := 0; i < 4; i++ {
			stats, err := s.Stats(ctx, fmt.Sprintf("collection_%d", i))
			require.NoError(t, err)
			assert.Equal(t, 10, stats.Count)
		}
	})
}
