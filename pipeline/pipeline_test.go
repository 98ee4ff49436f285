package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/tabvec/ai"
	"github.com/poiesic/tabvec/ai/mock"
	"github.com/poiesic/tabvec/chunking"
	"github.com/poiesic/tabvec/config"
	"github.com/poiesic/tabvec/core"
	"github.com/poiesic/tabvec/embedding"
	"github.com/poiesic/tabvec/storage"
	badgerstore "github.com/poiesic/tabvec/storage/badger"
	"github.com/poiesic/tabvec/vectorstore"
	"github.com/poiesic/tabvec/vectorstore/document"
	"github.com/poiesic/tabvec/vectorstore/flat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	p        *Pipeline
	embedder *mock.MockEmbedder
	loader   *mock.MockLoader
	stores   *vectorstore.Manager
	runs     storage.RunRepository
	root     string

	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{root: t.TempDir(), embedder: mock.NewMockEmbedder()}
	h.loader = mock.NewMockLoaderWithEmbedder(h.embedder)

	batcher, err := embedding.NewBatcher(h.loader, embedding.WithDefaultModel("mock-model"))
	require.NoError(t, err)

	h.stores = vectorstore.NewManager(h.root,
		vectorstore.WithOpener(vectorstore.KindDocument, document.Opener),
		vectorstore.WithOpener(vectorstore.KindFlat, flat.Opener))

	runs, err := badgerstore.NewMemoryRunRepository()
	require.NoError(t, err)
	h.runs = runs

	all := append([]Option{
		WithPoolSize(2),
		WithRunRepository(runs),
		WithExportRoot(h.root),
		WithObserver(func(ev Event) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		}),
	}, opts...)
	h.p, err = NewPipeline(batcher, h.stores, all...)
	require.NoError(t, err)

	t.Cleanup(func() {
		h.p.Release()
		h.stores.Close()
		h.runs.Close()
	})
	return h
}

func (h *harness) states(id string) []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []State
	for _, ev := range h.events {
		if ev.ProcessingID == id {
			out = append(out, ev.To)
		}
	}
	return out
}

func sampleTable(t *testing.T) *core.Table {
	t.Helper()
	table := core.NewTable("name", "city", "score")
	rows := [][]core.Value{
		{"alice", "paris", "10"},
		{"bob", "berlin", "20"},
		{"carol", "paris", "30"},
		{"dave", "rome", "40"},
		{"erin", "berlin", "50"},
		{"frank", "rome", "60"},
	}
	for _, r := range rows {
		require.NoError(t, table.AppendRow(r...))
	}
	return table
}

func TestProcess_Fast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.p.Process(ctx, Request{
		SourceFile: "people.csv",
		Table:      sampleTable(t),
		Config:     config.RunConfig{Chunking: config.Chunking{Params: chunking.Params{ChunkSize: 2}}},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.ProcessingID)
	assert.Equal(t, "people.csv", res.SourceFile)
	assert.Equal(t, 6, res.RowsIn)
	assert.Equal(t, 6, res.RowsOut)
	assert.Equal(t, "fixed", res.Chunking.Method)
	assert.Nil(t, res.Chunking.Fallback)
	assert.Equal(t, 3, res.Chunking.TotalChunks)
	assert.Equal(t, "mock-model", res.Embedding.Model)
	assert.Equal(t, mock.DefaultDim, res.Embedding.VectorDimension)
	assert.Equal(t, core.CollectionName(res.ProcessingID), res.Storage.Collection)
	assert.Equal(t, 3, res.Storage.Count)
	assert.Equal(t, "/search/"+res.ProcessingID, res.SearchEndpoint)

	t.Run("timings", func(t *testing.T) {
		require.Len(t, res.Timings, 4)
		for i, stage := range []State{StatePreprocessing, StateChunking, StateEmbedding, StateStoring} {
			assert.Equal(t, string(stage), res.Timings[i].Stage)
			assert.False(t, res.Timings[i].End.Before(res.Timings[i].Start))
		}
		for i := 1; i < len(res.Timings); i++ {
			assert.False(t, res.Timings[i].Start.Before(res.Timings[i-1].End))
		}
	})

	t.Run("state sequence", func(t *testing.T) {
		assert.Equal(t, []State{StateReceived, StatePreprocessing, StateChunking, StateEmbedding, StateStoring, StateCompleted},
			h.states(res.ProcessingID))
	})

	t.Run("downloads", func(t *testing.T) {
		require.Len(t, res.DownloadLinks, 4)
		for _, link := range res.DownloadLinks {
			_, err := os.Stat(link)
			assert.NoError(t, err, link)
		}
	})

	t.Run("registry", func(t *testing.T) {
		rec, err := h.runs.GetRun(ctx, res.ProcessingID)
		require.NoError(t, err)
		assert.Equal(t, storage.RunCompleted, rec.Status)
		assert.Equal(t, "document", rec.StoreKind)
		assert.Equal(t, "mock-model", rec.Model)
		require.NotNil(t, rec.Result)
		assert.Equal(t, 3, rec.Result.Chunking.TotalChunks)
	})

	t.Run("searchable", func(t *testing.T) {
		store, err := h.stores.Open(vectorstore.KindDocument)
		require.NoError(t, err)
		q := mock.GenerateVector("anything", mock.DefaultDim)
		hits, err := store.Search(ctx, res.Storage.Collection, q, 10, vectorstore.MetricCosine, nil)
		require.NoError(t, err)
		assert.Len(t, hits, 3)
		assert.Equal(t, "people.csv", hits[0].SourceFile)
	})
}

func TestProcess_FlatStore(t *testing.T) {
	h := newHarness(t)
	res, err := h.p.Process(context.Background(), Request{
		SourceFile: "people.csv",
		Table:      sampleTable(t),
		Config: config.RunConfig{
			Mode:     config.ModeDeep,
			Chunking: config.Chunking{Params: chunking.Params{KeyColumn: "city"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "document_based", res.Chunking.Method)
	assert.Equal(t, 3, res.Chunking.TotalChunks)
	assert.Equal(t, "flat", res.Storage.StoreType)

	store, err := h.stores.Open(vectorstore.KindFlat)
	require.NoError(t, err)
	ok, err := store.Exists(context.Background(), res.Storage.Collection)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcess_ChunkingFallback(t *testing.T) {
	h := newHarness(t)
	rowsSeen := false
	h.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		// Row vectorization embeds every row at once
		if len(texts) == 6 {
			rowsSeen = true
			return nil, errors.New("row model unavailable")
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.GenerateVector(text, mock.DefaultDim)
		}
		return out, nil
	}

	res, err := h.p.Process(context.Background(), Request{
		Table: sampleTable(t),
		Config: config.RunConfig{
			Mode:     config.ModeConfig,
			Chunking: config.Chunking{Params: chunking.Params{UseEmbeddings: true}},
		},
	})
	require.NoError(t, err)
	assert.True(t, rowsSeen)

	assert.Equal(t, "semantic", res.Chunking.RequestedMethod)
	assert.Equal(t, "fixed", res.Chunking.Method)
	require.NotNil(t, res.Chunking.Fallback)
	assert.Equal(t, "semantic", res.Chunking.Fallback.From)
	assert.Equal(t, "fixed", res.Chunking.Fallback.To)
	assert.Contains(t, res.Chunking.Fallback.Reason, "row model unavailable")
	// Six rows fit in one default-size fixed chunk
	assert.Equal(t, 1, res.Chunking.TotalChunks)
}

func TestProcess_InvalidParameterDoesNotFallBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.p.Submit(ctx, Request{
		Table: sampleTable(t),
		Config: config.RunConfig{
			Chunking: config.Chunking{Method: "document_based", Params: chunking.Params{KeyColumn: "missing"}},
		},
	})
	require.NoError(t, err)
	res, err := job.Wait(ctx)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, StateFailed, job.State())

	var serr *StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StateChunking, serr.Stage)
	assert.Equal(t, job.ID(), serr.ProcessingID)
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	assert.Equal(t, []State{StateReceived, StatePreprocessing, StateChunking, StateFailed}, h.states(job.ID()))

	rec, err := h.runs.GetRun(ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, storage.RunFailed, rec.Status)
	assert.Equal(t, "chunking", rec.Stage)
	assert.Nil(t, rec.Result)

	_, err = os.Stat(fmt.Sprintf("%s/downloads/%s", h.root, job.ID()))
	assert.True(t, os.IsNotExist(err))
}

func TestSubmit_UnsupportedMethod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.p.Submit(ctx, Request{
		Table:  sampleTable(t),
		Config: config.RunConfig{Chunking: config.Chunking{Method: "magic"}},
	})
	require.Error(t, err)
	assert.Nil(t, job)
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
	assert.NotErrorIs(t, err, core.ErrChunking)

	_, err = h.p.Process(ctx, Request{
		Table:  sampleTable(t),
		Config: config.RunConfig{Chunking: config.Chunking{Method: "magic"}},
	})
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.events, "no run starts and no fixed chunking is substituted")

	runs, err := h.runs.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestProcess_StageFailures(t *testing.T) {
	t.Run("conversion", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.p.Process(context.Background(), Request{
			Table: sampleTable(t),
			Config: config.RunConfig{Preprocessing: config.Preprocessing{
				TypeConversions: map[string]string{"city": "numeric"},
			}},
		})
		var serr *StageError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, StatePreprocessing, serr.Stage)
		assert.ErrorIs(t, err, core.ErrConversion)
	})

	t.Run("model load", func(t *testing.T) {
		h := newHarness(t)
		h.loader.LoadFunc = func(ctx context.Context, model string) (ai.Embedder, error) {
			return nil, errors.New("no such model")
		}
		_, err := h.p.Process(context.Background(), Request{Table: sampleTable(t)})
		var serr *StageError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, StateEmbedding, serr.Stage)
		assert.ErrorIs(t, err, core.ErrEmbedding)

		store, err := h.stores.Open(vectorstore.KindDocument)
		require.NoError(t, err)
		names, err := store.Collections(context.Background())
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("batch failure", func(t *testing.T) {
		h := newHarness(t)
		h.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, errors.New("gpu on fire")
		}
		_, err := h.p.Process(context.Background(), Request{Table: sampleTable(t)})
		var eerr *core.EmbeddingError
		require.ErrorAs(t, err, &eerr)
		assert.Equal(t, 0, eerr.Batch)
	})
}

func TestSubmit_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.p.Submit(ctx, Request{})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = h.p.Submit(ctx, Request{Table: sampleTable(t), Config: config.RunConfig{Mode: "warp"}})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = h.p.Submit(ctx, Request{Table: core.NewTable("a")})
	assert.ErrorIs(t, err, core.ErrValidation)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.events, "no run is started for invalid input")
}

func TestSubmit_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t, WithPoolSize(1))
	release := make(chan struct{})
	h.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		<-release
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.GenerateVector(text, mock.DefaultDim)
		}
		return out, nil
	}
	ctx := context.Background()

	first, err := h.p.Submit(ctx, Request{Table: sampleTable(t)})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return first.State() == StateEmbedding }, 5*time.Second, 5*time.Millisecond)

	cancelCtx, cancel := context.WithCancel(ctx)
	second, err := h.p.Submit(cancelCtx, Request{Table: sampleTable(t)})
	require.NoError(t, err)
	cancel()
	close(release)

	_, err = first.Wait(ctx)
	require.NoError(t, err)

	_, err = second.Wait(ctx)
	var serr *StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StateReceived, serr.Stage)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []State{StateReceived, StateFailed}, h.states(second.ID()))
}

func TestProcess_InFlightStageNotInterrupted(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		once.Do(func() { close(entered) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.GenerateVector(text, mock.DefaultDim)
		}
		return out, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	job, err := h.p.Submit(ctx, Request{Table: sampleTable(t)})
	require.NoError(t, err)
	<-entered
	cancel()
	close(release)

	_, err = job.Wait(context.Background())
	var serr *StageError
	require.ErrorAs(t, err, &serr)
	// Embedding finished; the run stops before storing
	assert.Equal(t, StateStoring, serr.Stage)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []State{StateReceived, StatePreprocessing, StateChunking, StateEmbedding, StateFailed}, h.states(job.ID()))
}

func TestProcess_ConcurrentRuns(t *testing.T) {
	h := newHarness(t, WithPoolSize(3))
	ctx := context.Background()

	jobs := make([]*Job, 5)
	for i := range jobs {
		var err error
		jobs[i], err = h.p.Submit(ctx, Request{SourceFile: fmt.Sprintf("f%d.csv", i), Table: sampleTable(t)})
		require.NoError(t, err)
	}

	ids := map[string]bool{}
	for _, job := range jobs {
		res, err := job.Wait(ctx)
		require.NoError(t, err)
		ids[res.ProcessingID] = true
	}
	assert.Len(t, ids, 5)

	runs, err := h.runs.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 5)
	assert.Equal(t, 1, h.loader.LoadCount(), "model is loaded once and shared")
}

func TestRelease(t *testing.T) {
	h := newHarness(t)
	h.p.Release()
	_, err := h.p.Submit(context.Background(), Request{Table: sampleTable(t)})
	assert.ErrorIs(t, err, ErrReleased)
}

func TestJob_WaitTimeout(t *testing.T) {
	job := newJob("x")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := job.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateReceived, job.State())
}

func TestNewPipeline_Required(t *testing.T) {
	_, err := NewPipeline(nil, vectorstore.NewManager(t.TempDir()))
	assert.ErrorIs(t, err, ErrBatcherRequired)

	batcher, err := embedding.NewBatcher(mock.NewMockLoader())
	require.NoError(t, err)
	_, err = NewPipeline(batcher, nil)
	assert.ErrorIs(t, err, ErrStoresRequired)
}
