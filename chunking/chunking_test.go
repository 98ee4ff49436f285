package chunking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/poiesic/tabvec/ai/mock"
	"github.com/poiesic/tabvec/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedTable(t *testing.T, n int) *core.Table {
	t.Helper()
	table := core.NewTable("id", "name")
	for i := 0; i < n; i++ {
		require.NoError(t, table.AppendRow(fmt.Sprintf("%d", i), fmt.Sprintf("item %d", i)))
	}
	return table
}

func keyedTable(t *testing.T, keys ...core.Value) *core.Table {
	t.Helper()
	table := core.NewTable("group", "value")
	for i, k := range keys {
		require.NoError(t, table.AppendRow(k, fmt.Sprintf("v%d", i)))
	}
	return table
}

// assertPartition checks every row appears exactly once across chunks.
func assertPartition(t *testing.T, chunks []core.Chunk, rows int) {
	t.Helper()
	seen := make([]int, rows)
	for _, c := range chunks {
		for _, r := range c.SourceRows {
			seen[r]++
		}
	}
	for r, n := range seen {
		assert.Equal(t, 1, n, "row %d covered %d times", r, n)
	}
}

func assertSequentialIDs(t *testing.T, method Method, chunks []core.Chunk) {
	t.Helper()
	for i, c := range chunks {
		assert.Equal(t, ChunkID(method, i), c.ID)
		assert.Equal(t, string(method), c.Method)
	}
}

func TestParseMethod(t *testing.T) {
	for _, m := range Methods {
		got, err := ParseMethod(" " + strings.ToUpper(string(m)) + " ")
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	_, err := ParseMethod("sliding_window")
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}

func TestNew_UnsupportedMethod(t *testing.T) {
	_, err := New(Method("magic"), Params{})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
	assert.NotErrorIs(t, err, core.ErrChunking)
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "fixed_chunk_0000", ChunkID(MethodFixed, 0))
	assert.Equal(t, "document_based_chunk_0012", ChunkID(MethodDocumentBased, 12))
}

func TestRowText(t *testing.T) {
	cols := []core.Column{{Name: "name"}, {Name: "age"}, {Name: "city"}}
	assert.Equal(t, "name: Alice | city: Paris", RowText(cols, []core.Value{"Alice", nil, "Paris"}))
	assert.Equal(t, "age: 30", RowText(cols, []core.Value{nil, int64(30), " "}))
}

func TestFixed(t *testing.T) {
	ctx := context.Background()

	t.Run("250 rows in chunks of 100", func(t *testing.T) {
		table := numberedTable(t, 250)
		res, err := Chunk(ctx, table, MethodFixed, Params{ChunkSize: 100})
		require.NoError(t, err)

		require.Len(t, res.Chunks, 3)
		assert.Equal(t, []int{100, 100, 50}, []int{res.Chunks[0].Size, res.Chunks[1].Size, res.Chunks[2].Size})
		assert.Equal(t, 0, res.Chunks[0].SourceRows[0])
		assert.Equal(t, 249, res.Chunks[2].SourceRows[49])
		assertPartition(t, res.Chunks, 250)
		assertSequentialIDs(t, MethodFixed, res.Chunks)
		assert.Equal(t, 1.0, res.Quality.Coverage)
		assert.Equal(t, QualityExcellent, res.Quality.OverallQuality)
	})

	t.Run("default chunk size", func(t *testing.T) {
		res, err := Chunk(ctx, numberedTable(t, 150), MethodFixed, Params{})
		require.NoError(t, err)
		require.Len(t, res.Chunks, 2)
		assert.Equal(t, DefaultFixedChunkSize, res.Chunks[0].Size)
	})

	t.Run("overlap", func(t *testing.T) {
		res, err := Chunk(ctx, numberedTable(t, 10), MethodFixed, Params{ChunkSize: 4, Overlap: 2})
		require.NoError(t, err)
		require.Len(t, res.Chunks, 4)
		assert.Equal(t, []int{2, 3, 4, 5}, res.Chunks[1].SourceRows)
		assert.Equal(t, []int{6, 7, 8, 9}, res.Chunks[3].SourceRows)
	})

	t.Run("chunk text joins row texts", func(t *testing.T) {
		res, err := Chunk(ctx, numberedTable(t, 2), MethodFixed, Params{ChunkSize: 5})
		require.NoError(t, err)
		assert.Equal(t, "id: 0 | name: item 0\nid: 1 | name: item 1", res.Chunks[0].Text)
	})

	t.Run("invalid parameters", func(t *testing.T) {
		for _, p := range []Params{{ChunkSize: -1}, {ChunkSize: 5, Overlap: 5}, {Overlap: -1}} {
			_, err := New(MethodFixed, p)
			assert.ErrorIs(t, err, core.ErrInvalidParameter, "%+v", p)
		}
	})

	t.Run("empty table is a validation error", func(t *testing.T) {
		_, err := Chunk(ctx, core.NewTable("a"), MethodFixed, Params{})
		assert.ErrorIs(t, err, core.ErrValidation)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Chunk(cctx, numberedTable(t, 10), MethodFixed, Params{ChunkSize: 2})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRecursive(t *testing.T) {
	ctx := context.Background()
	table := numberedTable(t, 40)

	t.Run("chunks fit the character budget", func(t *testing.T) {
		res, err := Chunk(ctx, table, MethodRecursive, Params{ChunkSize: 120})
		require.NoError(t, err)
		assertPartition(t, res.Chunks, 40)
		assertSequentialIDs(t, MethodRecursive, res.Chunks)

		next := 0
		for _, c := range res.Chunks {
			assert.Equal(t, len([]rune(c.Text)), c.Size)
			assert.True(t, c.Size <= 120 || len(c.SourceRows) == 1)
			assert.Equal(t, next, c.SourceRows[0], "chunks follow row order")
			next = c.SourceRows[len(c.SourceRows)-1] + 1
		}
	})

	t.Run("oversized single row", func(t *testing.T) {
		wide := core.NewTable("text")
		require.NoError(t, wide.AppendRow(strings.Repeat("x", 50)))
		require.NoError(t, wide.AppendRow("short"))
		res, err := Chunk(ctx, wide, MethodRecursive, Params{ChunkSize: 20})
		require.NoError(t, err)
		require.Len(t, res.Chunks, 2)
		assert.Equal(t, true, res.Chunks[0].Extra["oversized"])
		assert.NotContains(t, res.Chunks[1].Extra, "oversized")
	})

	t.Run("max rows bounds initial blocks", func(t *testing.T) {
		res, err := Chunk(ctx, table, MethodRecursive, Params{ChunkSize: 100000, MaxRows: 15})
		require.NoError(t, err)
		require.Len(t, res.Chunks, 3)
		assert.Len(t, res.Chunks[2].SourceRows, 10)
	})

	t.Run("negative max rows", func(t *testing.T) {
		_, err := New(MethodRecursive, Params{MaxRows: -1})
		assert.ErrorIs(t, err, core.ErrInvalidParameter)
	})
}

func TestDocumentBased(t *testing.T) {
	ctx := context.Background()

	t.Run("groups in first appearance order", func(t *testing.T) {
		table := keyedTable(t, "A", "A", "B", "C", "C", "C")
		res, err := Chunk(ctx, table, MethodDocumentBased, Params{KeyColumn: "group"})
		require.NoError(t, err)

		require.Len(t, res.Chunks, 3)
		assert.Equal(t, []int{0, 1}, res.Chunks[0].SourceRows)
		assert.Equal(t, []int{2}, res.Chunks[1].SourceRows)
		assert.Equal(t, []int{3, 4, 5}, res.Chunks[2].SourceRows)
		assert.Equal(t, []int{2, 1, 3}, []int{res.Chunks[0].Size, res.Chunks[1].Size, res.Chunks[2].Size})
		assert.Equal(t, "B", res.Chunks[1].Extra["key_value"])
		assert.Equal(t, "group", res.Chunks[1].Extra["key_column"])
		assertSequentialIDs(t, MethodDocumentBased, res.Chunks)
		assert.Equal(t, 1.0, res.Quality.Coverage)
	})

	t.Run("interleaved keys", func(t *testing.T) {
		table := keyedTable(t, "x", "y", "x")
		res, err := Chunk(ctx, table, MethodDocumentBased, Params{KeyColumn: "group"})
		require.NoError(t, err)
		require.Len(t, res.Chunks, 2)
		assert.Equal(t, []int{0, 2}, res.Chunks[0].SourceRows)
	})

	t.Run("null keys", func(t *testing.T) {
		table := keyedTable(t, nil, "A", nil)

		grouped, err := Chunk(ctx, table, MethodDocumentBased, Params{KeyColumn: "group"})
		require.NoError(t, err)
		require.Len(t, grouped.Chunks, 2)
		assert.Equal(t, []int{0, 2}, grouped.Chunks[0].SourceRows)
		assert.Equal(t, "<null>", grouped.Chunks[0].Extra["key_value"])

		separate, err := Chunk(ctx, table, MethodDocumentBased, Params{KeyColumn: "group", NullKey: NullKeySeparate})
		require.NoError(t, err)
		assert.Len(t, separate.Chunks, 3)
	})

	t.Run("token limit splits large groups", func(t *testing.T) {
		keys := make([]core.Value, 10)
		for i := range keys {
			keys[i] = "same"
		}
		res, err := Chunk(ctx, keyedTable(t, keys...), MethodDocumentBased, Params{KeyColumn: "group", TokenLimit: 10})
		require.NoError(t, err)
		require.Greater(t, len(res.Chunks), 1)
		assertPartition(t, res.Chunks, 10)
		for _, c := range res.Chunks {
			assert.Equal(t, len(res.Chunks), c.Extra["sub_chunks"])
		}
	})

	t.Run("missing key column parameter", func(t *testing.T) {
		_, err := New(MethodDocumentBased, Params{})
		assert.ErrorIs(t, err, core.ErrInvalidParameter)
	})

	t.Run("unknown key column", func(t *testing.T) {
		_, err := Chunk(ctx, keyedTable(t, "A"), MethodDocumentBased, Params{KeyColumn: "nope"})
		assert.ErrorIs(t, err, core.ErrInvalidParameter)
		assert.NotErrorIs(t, err, core.ErrChunking)
	})

	t.Run("unknown null policy", func(t *testing.T) {
		_, err := New(MethodDocumentBased, Params{KeyColumn: "group", NullKey: "drop"})
		assert.ErrorIs(t, err, core.ErrInvalidParameter)
	})
}

func numericTable(t *testing.T, values ...float64) *core.Table {
	t.Helper()
	table := &core.Table{Columns: []core.Column{{Name: "x", Type: core.ColumnNumeric}}}
	for _, v := range values {
		require.NoError(t, table.AppendRow(v))
	}
	return table
}

func TestSemantic(t *testing.T) {
	ctx := context.Background()

	t.Run("separates distant groups", func(t *testing.T) {
		table := numericTable(t, 1, 2, 3, 100, 101, 102)
		res, err := Chunk(ctx, table, MethodSemantic, Params{NClusters: 2})
		require.NoError(t, err)

		require.Len(t, res.Chunks, 2)
		assert.Equal(t, []int{0, 1, 2}, res.Chunks[0].SourceRows)
		assert.Equal(t, []int{3, 4, 5}, res.Chunks[1].SourceRows)
		assertPartition(t, res.Chunks, 6)
		assertSequentialIDs(t, MethodSemantic, res.Chunks)
	})

	t.Run("deterministic for a seed", func(t *testing.T) {
		table := numberedTable(t, 30)
		a, err := Chunk(ctx, table, MethodSemantic, Params{NClusters: 4})
		require.NoError(t, err)
		b, err := Chunk(ctx, table, MethodSemantic, Params{NClusters: 4})
		require.NoError(t, err)
		assert.Equal(t, a.SourceMapping(), b.SourceMapping())
	})

	t.Run("fewer distinct rows than clusters", func(t *testing.T) {
		table := numericTable(t, 7, 7, 7)
		res, err := Chunk(ctx, table, MethodSemantic, Params{NClusters: 5})
		require.NoError(t, err)
		require.Len(t, res.Chunks, 1)
		assert.Equal(t, 1, res.Chunks[0].Extra["effective_clusters"])
		assert.Equal(t, 5, res.Chunks[0].Extra["requested_clusters"])
	})

	t.Run("use embeddings requires an embedder", func(t *testing.T) {
		_, err := New(MethodSemantic, Params{UseEmbeddings: true})
		assert.ErrorIs(t, err, core.ErrInvalidParameter)
	})

	t.Run("use embeddings", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		res, err := Chunk(ctx, numberedTable(t, 12), MethodSemantic, Params{NClusters: 3, UseEmbeddings: true}, WithRowEmbedder(embedder))
		require.NoError(t, err)
		assertPartition(t, res.Chunks, 12)
		assert.Equal(t, 1, embedder.CallCount())
	})

	t.Run("vectorizer failure is a chunking error", func(t *testing.T) {
		s, err := NewSemantic(2, failingVectorizer{err: errors.New("boom")})
		require.NoError(t, err)
		_, err = s.Chunk(ctx, numericTable(t, 1, 2))
		assert.ErrorIs(t, err, core.ErrChunking)
	})

	t.Run("panic is a chunking error", func(t *testing.T) {
		s, err := NewSemantic(2, failingVectorizer{panics: true})
		require.NoError(t, err)
		_, err = s.Chunk(ctx, numericTable(t, 1, 2))
		assert.ErrorIs(t, err, core.ErrChunking)
	})

	t.Run("short vectorizer output", func(t *testing.T) {
		s, err := NewSemantic(2, failingVectorizer{})
		require.NoError(t, err)
		_, err = s.Chunk(ctx, numericTable(t, 1, 2))
		assert.ErrorIs(t, err, core.ErrChunking)
	})
}

type failingVectorizer struct {
	err    error
	panics bool
}

func (f failingVectorizer) Vectorize(context.Context, *core.Table) ([][]float64, error) {
	if f.panics {
		panic("vectorizer exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return [][]float64{{1}}, nil
}

func TestKmeans(t *testing.T) {
	t.Run("labels in first appearance order", func(t *testing.T) {
		points := [][]float64{{10}, {0}, {10.1}, {0.1}}
		labels := kmeans(points, 2, 50, 1)
		assert.Equal(t, []int{0, 1, 0, 1}, labels)
	})

	t.Run("single cluster", func(t *testing.T) {
		assert.Equal(t, []int{0, 0}, kmeans([][]float64{{1}, {2}}, 1, 10, 1))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, kmeans(nil, 3, 10, 1))
	})
}

func TestAssess(t *testing.T) {
	chunk := func(rows ...int) core.Chunk { return core.Chunk{SourceRows: rows} }

	t.Run("no chunks", func(t *testing.T) {
		q := Assess(nil, 10)
		assert.Equal(t, QualityPoor, q.OverallQuality)
	})

	t.Run("balanced full coverage", func(t *testing.T) {
		q := Assess([]core.Chunk{chunk(0, 1, 2, 3), chunk(4, 5, 6, 7)}, 8)
		assert.Equal(t, 1.0, q.Coverage)
		assert.Equal(t, 1.0, q.QualityScore)
		assert.Equal(t, QualityExcellent, q.OverallQuality)
		assert.Equal(t, 4, q.SizeStats.Min)
		assert.Equal(t, 4, q.SizeStats.Max)
		assert.Equal(t, 8, q.TotalRowsProcessed)
	})

	t.Run("one chunk holding everything", func(t *testing.T) {
		q := Assess([]core.Chunk{chunk(0, 1, 2, 3, 4)}, 5)
		assert.Equal(t, 1, q.VeryLargeChunks)
		assert.InDelta(t, 0.8, q.QualityScore, 1e-9)
	})

	t.Run("poor coverage", func(t *testing.T) {
		q := Assess([]core.Chunk{chunk(0)}, 10)
		assert.InDelta(t, 0.1, q.Coverage, 1e-9)
		assert.Equal(t, QualityPoor, q.OverallQuality)
	})

	t.Run("small chunks penalized", func(t *testing.T) {
		q := Assess([]core.Chunk{chunk(0, 1), chunk(2), chunk(3, 4, 5)}, 6)
		assert.Equal(t, 2, q.VerySmallChunks)
		assert.InDelta(t, 0.9, q.QualityScore, 1e-9)
	})
}

func TestParamsFromMap(t *testing.T) {
	t.Run("decodes loose types", func(t *testing.T) {
		p, err := ParamsFromMap(MethodSemantic, map[string]any{
			"n_clusters":     float64(3),
			"max_iterations": "20",
			"seed":           int64(7),
			"use_embeddings": true,
			"ignored":        "x",
		})
		require.NoError(t, err)
		assert.Equal(t, Params{NClusters: 3, MaxIterations: 20, Seed: 7, UseEmbeddings: true}, p)
	})

	t.Run("document params", func(t *testing.T) {
		p, err := ParamsFromMap(MethodDocumentBased, map[string]any{"key_column": "customer", "token_limit": 500, "null_key": nil})
		require.NoError(t, err)
		assert.Equal(t, "customer", p.KeyColumn)
		assert.Equal(t, 500, p.TokenLimit)
	})

	t.Run("bad types", func(t *testing.T) {
		for _, m := range []map[string]any{
			{"chunk_size": 1.5},
			{"chunk_size": "big"},
			{"chunk_size": []int{1}},
			{"use_embeddings": "yes"},
			{"key_column": 3},
		} {
			_, err := ParamsFromMap(MethodFixed, m)
			assert.ErrorIs(t, err, core.ErrInvalidParameter, "%v", m)
		}
	})
}

func TestResultMetadata(t *testing.T) {
	res, err := Chunk(context.Background(), numberedTable(t, 5), MethodFixed, Params{ChunkSize: 2})
	require.NoError(t, err)

	meta := res.Metadata()
	require.Len(t, meta, 3)
	assert.Equal(t, ChunkMetadata{ChunkID: "fixed_chunk_0002", Method: "fixed", Size: 1, SourceRows: []int{4}}, meta[2])
	assert.Equal(t, []int{2, 3}, res.SourceMapping()["fixed_chunk_0001"])
}

func TestApproxCounter(t *testing.T) {
	assert.Equal(t, 0, ApproxCounter{}.Count("abc"))
	assert.Equal(t, 2, ApproxCounter{}.Count("abcdefgh"))
}

func TestDocumentBased_TokenCounter(t *testing.T) {
	s, err := New(MethodDocumentBased, Params{KeyColumn: "group"})
	require.NoError(t, err)
	assert.Equal(t, ApproxCounter{}, s.(*DocumentBased).tokens, "the estimate is the default")

	s, err = New(MethodDocumentBased, Params{KeyColumn: "group"}, WithTokenCounter(nil))
	require.NoError(t, err)
	assert.Equal(t, ApproxCounter{}, s.(*DocumentBased).tokens)

	fixed := fixedCounter(7)
	s, err = New(MethodDocumentBased, Params{KeyColumn: "group"}, WithTokenCounter(fixed))
	require.NoError(t, err)
	assert.Equal(t, fixed, s.(*DocumentBased).tokens)
}

type fixedCounter int

func (c fixedCounter) Count(string) int { return int(c) }
