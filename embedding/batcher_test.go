package embedding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/tabvec/ai"
	"github.com/poiesic/tabvec/ai/mock"
	"github.com/poiesic/tabvec/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChunks(n int) []core.Chunk {
	chunks := make([]core.Chunk, n)
	for i := range chunks {
		chunks[i] = core.Chunk{ID: fmt.Sprintf("fixed_chunk_%04d", i), Text: fmt.Sprintf("row %d text", i), SourceRows: []int{i}, Method: "fixed", Size: 1}
	}
	return chunks
}

// recordingEmbedder records batch sizes.
type recordingEmbedder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *recordingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vs, err := r.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (r *recordingEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	r.mu.Lock()
	r.batches = append(r.batches, append([]string(nil), texts...))
	r.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = mock.GenerateVector(text, 4)
	}
	return out, nil
}

func newBatcher(t *testing.T, embedder ai.Embedder, opts ...Option) (*Batcher, *mock.MockLoader) {
	t.Helper()
	loader := mock.NewMockLoader()
	loader.LoadFunc = func(context.Context, string) (ai.Embedder, error) { return embedder, nil }
	b, err := NewBatcher(loader, opts...)
	require.NoError(t, err)
	return b, loader
}

func TestNewBatcher(t *testing.T) {
	_, err := NewBatcher(nil)
	assert.ErrorIs(t, err, ErrNilLoader)

	_, err = NewBatcher(mock.NewMockLoader(), WithRetry(0, time.Millisecond))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestBatcher_Embed(t *testing.T) {
	ctx := context.Background()

	t.Run("batches preserve order", func(t *testing.T) {
		rec := &recordingEmbedder{}
		b, _ := newBatcher(t, rec)

		chunks := testChunks(3)
		res, err := b.Embed(ctx, chunks, "test-model", 2)
		require.NoError(t, err)

		require.Len(t, rec.batches, 2)
		assert.Equal(t, []string{"row 0 text", "row 1 text"}, rec.batches[0])
		assert.Equal(t, []string{"row 2 text"}, rec.batches[1])

		assert.Equal(t, 3, res.TotalChunks)
		assert.Equal(t, 2, res.Batches)
		assert.Equal(t, 4, res.Dimension)
		assert.Equal(t, "test-model", res.Model)
		require.Len(t, res.Chunks, 3)
		for i, c := range res.Chunks {
			assert.Equal(t, chunks[i].ID, c.ID)
			assert.Equal(t, mock.GenerateVector(chunks[i].Text, 4), c.Vector)
			assert.Equal(t, 4, c.Dimension)
		}
		assert.True(t, res.Quality.Valid())
		assert.Equal(t, 2, res.Summary().BatchSize)
		assert.Len(t, res.Vectors(), 3)
	})

	t.Run("model loaded once", func(t *testing.T) {
		b, loader := newBatcher(t, mock.NewMockEmbedder())
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := b.Embed(ctx, testChunks(2), "shared", 1)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, loader.LoadCount())
	})

	t.Run("default model", func(t *testing.T) {
		b, loader := newBatcher(t, mock.NewMockEmbedder(), WithDefaultModel("fallback-model"))
		res, err := b.Embed(ctx, testChunks(1), "", 4)
		require.NoError(t, err)
		assert.Equal(t, "fallback-model", res.Model)
		assert.Equal(t, []string{"fallback-model"}, loader.Models())
	})

	t.Run("validation", func(t *testing.T) {
		b, _ := newBatcher(t, mock.NewMockEmbedder())
		_, err := b.Embed(ctx, nil, "m", 2)
		assert.ErrorIs(t, err, core.ErrValidation)
		_, err = b.Embed(ctx, testChunks(1), "m", 0)
		assert.ErrorIs(t, err, core.ErrValidation)
		_, err = b.Embed(ctx, testChunks(1), "", 2)
		assert.ErrorIs(t, err, core.ErrValidation)
	})

	t.Run("load failure", func(t *testing.T) {
		loader := mock.NewMockLoader()
		loader.LoadFunc = func(context.Context, string) (ai.Embedder, error) { return nil, errors.New("no such model") }
		b, err := NewBatcher(loader)
		require.NoError(t, err)

		_, err = b.Embed(ctx, testChunks(2), "missing", 2)
		var embErr *core.EmbeddingError
		require.ErrorAs(t, err, &embErr)
		assert.Equal(t, -1, embErr.Batch)
		assert.Equal(t, "missing", embErr.Model)
	})

	t.Run("batch failure returns no partial result", func(t *testing.T) {
		e := mock.NewMockEmbedder()
		calls := 0
		e.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
			calls++
			if calls == 2 {
				return nil, errors.New("service down")
			}
			out := make([][]float32, len(texts))
			for i := range out {
				out[i] = []float32{1, 0}
			}
			return out, nil
		}
		b, _ := newBatcher(t, e)

		res, err := b.Embed(ctx, testChunks(5), "m", 2)
		assert.Nil(t, res)
		var embErr *core.EmbeddingError
		require.ErrorAs(t, err, &embErr)
		assert.Equal(t, 1, embErr.Batch)
	})

	t.Run("retry recovers", func(t *testing.T) {
		e := mock.NewMockEmbedder()
		var calls atomic.Int32
		e.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("flaky")
			}
			return [][]float32{{1, 2}}, nil
		}
		b, _ := newBatcher(t, e, WithRetry(3, time.Millisecond))
		res, err := b.Embed(ctx, testChunks(1), "m", 1)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Dimension)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("retry gives up after max attempts", func(t *testing.T) {
		e := mock.NewMockEmbedder()
		var calls atomic.Int32
		down := errors.New("service down")
		e.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
			calls.Add(1)
			return nil, down
		}
		b, _ := newBatcher(t, e, WithRetry(3, time.Millisecond))
		_, err := b.Embed(ctx, testChunks(1), "m", 1)
		assert.ErrorIs(t, err, down)
		assert.ErrorIs(t, err, core.ErrEmbedding)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("retry stops on cancellation", func(t *testing.T) {
		e := mock.NewMockEmbedder()
		cctx, cancel := context.WithCancel(ctx)
		var calls atomic.Int32
		e.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
			if calls.Add(1) == 2 {
				cancel()
			}
			return nil, errors.New("flaky")
		}
		b, _ := newBatcher(t, e, WithRetry(10, time.Millisecond))
		_, err := b.Embed(cctx, testChunks(1), "m", 1)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("count mismatch", func(t *testing.T) {
		e := mock.NewMockEmbedder()
		e.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) { return [][]float32{{1}}, nil }
		b, _ := newBatcher(t, e)
		_, err := b.Embed(ctx, testChunks(2), "m", 2)
		assert.ErrorIs(t, err, core.ErrEmbedding)
		assert.ErrorIs(t, err, ErrCountMismatch)
	})

	t.Run("non finite vector is fatal", func(t *testing.T) {
		e := mock.NewMockEmbedder()
		e.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
			return [][]float32{{1, float32(math.NaN())}}, nil
		}
		b, _ := newBatcher(t, e)
		_, err := b.Embed(ctx, testChunks(1), "m", 1)
		assert.ErrorIs(t, err, ErrNonFinite)
	})

	t.Run("dimension disagreement is fatal", func(t *testing.T) {
		e := mock.NewMockEmbedder()
		e.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
			if texts[0] == "row 0 text" {
				return [][]float32{{1, 2}}, nil
			}
			return [][]float32{{1, 2, 3}}, nil
		}
		b, _ := newBatcher(t, e)
		_, err := b.Embed(ctx, testChunks(2), "m", 1)
		assert.ErrorIs(t, err, ErrInconsistentDimension)
	})

	t.Run("zero vectors flagged", func(t *testing.T) {
		e := mock.NewMockEmbedder()
		e.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
			return [][]float32{{0, 0}, {1, 0}}, nil
		}
		b, _ := newBatcher(t, e)
		res, err := b.Embed(ctx, testChunks(2), "m", 2)
		require.NoError(t, err)
		assert.Equal(t, []int{0}, res.Quality.ZeroVectors)
	})

	t.Run("batch timeout", func(t *testing.T) {
		e := mock.NewMockEmbedder()
		e.EmbedTextsFunc = func(ctx context.Context, _ []string) ([][]float32, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		b, _ := newBatcher(t, e, WithBatchTimeout(10*time.Millisecond))
		_, err := b.Embed(ctx, testChunks(1), "m", 1)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.ErrorIs(t, err, core.ErrEmbedding)
	})

	t.Run("normalize", func(t *testing.T) {
		e := mock.NewMockEmbedder()
		e.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) { return [][]float32{{3, 4}}, nil }
		b, _ := newBatcher(t, e, WithNormalize(true))
		res, err := b.Embed(ctx, testChunks(1), "m", 1)
		require.NoError(t, err)
		assert.InDelta(t, 0.6, res.Chunks[0].Vector[0], 1e-6)
	})

	t.Run("progress", func(t *testing.T) {
		b, _ := newBatcher(t, mock.NewMockEmbedder())
		var seen []int
		_, err := b.Embed(ctx, testChunks(5), "m", 2, WithProgressFunc(func(done, total int) {
			assert.Equal(t, 5, total)
			seen = append(seen, done)
		}))
		require.NoError(t, err)
		assert.Equal(t, []int{2, 4, 5}, seen)

		var buf bytes.Buffer
		_, err = b.Embed(ctx, testChunks(5), "m", 2, WithProgressFunc(NewProgressTracker(&buf, 5, 1).Func()))
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "5/5")
	})
}

func TestBatcher_EmbedQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("matches chunk embedding and caches", func(t *testing.T) {
		e := mock.NewMockEmbedder()
		b, _ := newBatcher(t, e)

		res, err := b.Embed(ctx, testChunks(1), "m", 1)
		require.NoError(t, err)
		q, err := b.EmbedQuery(ctx, "m", "row 0 text")
		require.NoError(t, err)
		assert.Equal(t, res.Chunks[0].Vector, q)

		before := e.CallCount()
		_, err = b.EmbedQuery(ctx, "m", "row 0 text")
		require.NoError(t, err)
		assert.Equal(t, before, e.CallCount())
	})

	t.Run("cache disabled", func(t *testing.T) {
		e := mock.NewMockEmbedder()
		b, _ := newBatcher(t, e, WithQueryCache(0, 0))
		_, _ = b.EmbedQuery(ctx, "m", "q")
		_, _ = b.EmbedQuery(ctx, "m", "q")
		assert.Equal(t, 2, e.CallCount())
	})

	t.Run("empty query", func(t *testing.T) {
		b, _ := newBatcher(t, mock.NewMockEmbedder())
		_, err := b.EmbedQuery(ctx, "m", "")
		assert.ErrorIs(t, err, core.ErrValidation)
	})
}
