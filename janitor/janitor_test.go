package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/tabvec/ai/mock"
	"github.com/poiesic/tabvec/core"
	"github.com/poiesic/tabvec/storage"
	badgerstore "github.com/poiesic/tabvec/storage/badger"
	"github.com/poiesic/tabvec/vectorstore"
	"github.com/poiesic/tabvec/vectorstore/document"
	"github.com/poiesic/tabvec/vectorstore/flat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	root   string
	stores *vectorstore.Manager
	runs   storage.RunRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{root: t.TempDir()}
	f.stores = vectorstore.NewManager(f.root,
		vectorstore.WithOpener(vectorstore.KindDocument, document.Opener),
		vectorstore.WithOpener(vectorstore.KindFlat, flat.Opener))
	runs, err := badgerstore.NewMemoryRunRepository()
	require.NoError(t, err)
	f.runs = runs
	t.Cleanup(func() {
		f.stores.Close()
		runs.Close()
	})
	return f
}

// seed writes a run created age ago with a collection and a download dir.
func (f *fixture) seed(t *testing.T, id string, kind vectorstore.Kind, status storage.RunStatus, age time.Duration) {
	t.Helper()
	ctx := context.Background()
	collection := core.CollectionName(id)
	if status == storage.RunCompleted {
		store, err := f.stores.Open(kind)
		require.NoError(t, err)
		chunk := core.EmbeddedChunk{
			Chunk:     core.Chunk{ID: "fixed_chunk_0000", Text: id, SourceRows: []int{0}, Method: "fixed", Size: 1},
			Vector:    mock.GenerateVector(id, mock.DefaultDim),
			Dimension: mock.DefaultDim,
		}
		require.NoError(t, store.Upsert(ctx, collection, []core.EmbeddedChunk{chunk}, "data.csv"))
		_, err = store.Persist(ctx, collection)
		require.NoError(t, err)
	}
	dir := filepath.Join(f.root, "downloads", id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "summary.json"), []byte("{}"), 0o644))

	require.NoError(t, f.runs.SaveRun(ctx, &storage.RunRecord{
		ProcessingID: id,
		StoreKind:    string(kind),
		Collection:   collection,
		Status:       status,
		CreatedAt:    now.Add(-age),
	}))
}

func (f *fixture) collectionExists(t *testing.T, kind vectorstore.Kind, id string) bool {
	t.Helper()
	store, err := f.stores.Open(kind)
	require.NoError(t, err)
	ok, err := store.Exists(context.Background(), core.CollectionName(id))
	require.NoError(t, err)
	return ok
}

func TestNewJanitor(t *testing.T) {
	f := newFixture(t)

	_, err := NewJanitor(nil, f.stores, time.Hour)
	assert.Equal(t, ErrRunRepositoryRequired, err)

	_, err = NewJanitor(f.runs, nil, time.Hour)
	assert.Equal(t, ErrStoresRequired, err)

	_, err = NewJanitor(f.runs, f.stores, 0)
	assert.Equal(t, ErrInvalidMaxAge, err)

	j, err := NewJanitor(f.runs, f.stores, time.Hour, WithLogger(nil))
	require.NoError(t, err)
	assert.NotNil(t, j)
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, "old-doc", vectorstore.KindDocument, storage.RunCompleted, 72*time.Hour)
	f.seed(t, "old-flat", vectorstore.KindFlat, storage.RunCompleted, 48*time.Hour)
	f.seed(t, "old-failed", vectorstore.KindDocument, storage.RunFailed, 30*time.Hour)
	f.seed(t, "fresh", vectorstore.KindDocument, storage.RunCompleted, time.Hour)

	j, err := NewJanitor(f.runs, f.stores, 24*time.Hour,
		WithExportRoot(f.root), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	report, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), report.Cutoff)
	assert.Equal(t, 3, report.Examined)
	assert.Equal(t, []string{"old-doc", "old-flat", "old-failed"}, report.Removed)
	assert.Empty(t, report.Failed)

	t.Run("expired runs are gone", func(t *testing.T) {
		for _, id := range []string{"old-doc", "old-flat", "old-failed"} {
			_, err := f.runs.GetRun(ctx, id)
			assert.ErrorIs(t, err, storage.ErrNotFound, id)
			_, err = os.Stat(filepath.Join(f.root, "downloads", id))
			assert.True(t, os.IsNotExist(err), id)
		}
		assert.False(t, f.collectionExists(t, vectorstore.KindDocument, "old-doc"))
		assert.False(t, f.collectionExists(t, vectorstore.KindFlat, "old-flat"))
	})

	t.Run("fresh run is kept", func(t *testing.T) {
		_, err := f.runs.GetRun(ctx, "fresh")
		require.NoError(t, err)
		assert.True(t, f.collectionExists(t, vectorstore.KindDocument, "fresh"))
		_, err = os.Stat(filepath.Join(f.root, "downloads", "fresh", "summary.json"))
		assert.NoError(t, err)
	})

	t.Run("second sweep is a no-op", func(t *testing.T) {
		report, err := j.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.Examined)
		assert.Empty(t, report.Removed)
	})
}

func TestSweep_MissingCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "dropped", vectorstore.KindDocument, storage.RunCompleted, 72*time.Hour)

	store, err := f.stores.Open(vectorstore.KindDocument)
	require.NoError(t, err)
	require.NoError(t, store.Drop(ctx, core.CollectionName("dropped")))

	j, err := NewJanitor(f.runs, f.stores, time.Hour, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	report, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dropped"}, report.Removed)
}

func TestSweep_PartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "good", vectorstore.KindDocument, storage.RunCompleted, 72*time.Hour)
	require.NoError(t, f.runs.SaveRun(ctx, &storage.RunRecord{
		ProcessingID: "bad",
		StoreKind:    "pinecone",
		Status:       storage.RunCompleted,
		CreatedAt:    now.Add(-96 * time.Hour),
	}))

	j, err := NewJanitor(f.runs, f.stores, time.Hour, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	report, err := j.Sweep(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstore.ErrUnknownKind)
	assert.Equal(t, []string{"bad"}, report.Failed)
	assert.Equal(t, []string{"good"}, report.Removed)

	// The failed run stays registered for a later retry.
	_, err = f.runs.GetRun(ctx, "bad")
	assert.NoError(t, err)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "stale", vectorstore.KindDocument, storage.RunCompleted, 72*time.Hour)

	j, err := NewJanitor(f.runs, f.stores, time.Hour, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	t.Run("invalid schedule", func(t *testing.T) {
		assert.Error(t, j.Start(ctx, "every tuesday"))
	})

	t.Run("scheduled sweep runs", func(t *testing.T) {
		require.NoError(t, j.Start(ctx, "@every 1s"))
		defer j.Stop()
		assert.ErrorIs(t, j.Start(ctx, "@every 1s"), ErrAlreadyStarted)

		require.Eventually(t, func() bool {
			_, err := f.runs.GetRun(ctx, "stale")
			return err != nil
		}, 5*time.Second, 50*time.Millisecond)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		j.Stop()
		j.Stop()
	})
}
