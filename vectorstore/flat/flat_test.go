package flat

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/tabvec/core"
	"github.com/poiesic/tabvec/vectorstore"
	"github.com/poiesic/tabvec/vectorstore/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, dir string) vectorstore.Store {
		s, err := Open(dir, nil)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestPersistOnlyOnSave(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "c", []core.EmbeddedChunk{storetest.Chunk("a", 1, 0)}, ""))
	require.NoError(t, s.Close())

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	ok, err := reopened.Exists(ctx, "c")
	require.NoError(t, err)
	assert.False(t, ok, "unpersisted collection is lost")
}

func TestCorruptIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "c", []core.EmbeddedChunk{storetest.Chunk("a", 1, 0)}, ""))
	location, err := s.Persist(ctx, "c")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(location, indexFile), []byte("junk"), 0644))

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	_, err = reopened.Search(ctx, "c", []float32{1, 0}, 1, vectorstore.MetricCosine, nil)
	assert.ErrorIs(t, err, core.ErrStorage)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}
