// Package storagetest holds the behavior suite every storage.RunRepository
// backend must pass.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/tabvec/core"
	"github.com/poiesic/tabvec/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a fresh repository returned by open.
func Run(t *testing.T, open func(t *testing.T) storage.RunRepository) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	record := func(id string, offset time.Duration) *storage.RunRecord {
		return &storage.RunRecord{
			ProcessingID: id,
			SourceFile:   id + ".csv",
			StoreKind:    "document",
			Collection:   core.CollectionName(id),
			Status:       storage.RunCompleted,
			CreatedAt:    base.Add(offset),
		}
	}

	t.Run("save and get", func(t *testing.T) {
		repo := open(t)
		ctx := context.Background()
		rec := record("a", 0)
		rec.Result = &core.ProcessingResult{ProcessingID: "a", RowsIn: 4}
		require.NoError(t, repo.SaveRun(ctx, rec))

		got, err := repo.GetRun(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "collection_a", got.Collection)
		assert.Equal(t, storage.RunCompleted, got.Status)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
		require.NotNil(t, got.Result)
		assert.Equal(t, 4, got.Result.RowsIn)
	})

	t.Run("get missing", func(t *testing.T) {
		repo := open(t)
		_, err := repo.GetRun(context.Background(), "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("invalid record", func(t *testing.T) {
		repo := open(t)
		err := repo.SaveRun(context.Background(), &storage.RunRecord{ProcessingID: "x"})
		assert.ErrorIs(t, err, storage.ErrInvalidRecord)
	})

	t.Run("replace keeps one entry", func(t *testing.T) {
		repo := open(t)
		ctx := context.Background()
		require.NoError(t, repo.SaveRun(ctx, record("a", 0)))
		moved := record("a", time.Hour)
		moved.Status = storage.RunFailed
		moved.Error = "boom"
		require.NoError(t, repo.SaveRun(ctx, moved))

		runs, err := repo.ListRuns(ctx, 0)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, storage.RunFailed, runs[0].Status)
		assert.Equal(t, "boom", runs[0].Error)
	})

	t.Run("list most recent first", func(t *testing.T) {
		repo := open(t)
		ctx := context.Background()
		require.NoError(t, repo.SaveRun(ctx, record("old", 0)))
		require.NoError(t, repo.SaveRun(ctx, record("new", 2*time.Hour)))
		require.NoError(t, repo.SaveRun(ctx, record("mid", time.Hour)))

		runs, err := repo.ListRuns(ctx, 0)
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Equal(t, []string{"new", "mid", "old"}, ids(runs))

		runs, err = repo.ListRuns(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"new", "mid"}, ids(runs))
	})

	t.Run("runs before cutoff", func(t *testing.T) {
		repo := open(t)
		ctx := context.Background()
		require.NoError(t, repo.SaveRun(ctx, record("a", 0)))
		require.NoError(t, repo.SaveRun(ctx, record("b", time.Hour)))
		require.NoError(t, repo.SaveRun(ctx, record("c", 2*time.Hour)))

		runs, err := repo.RunsBefore(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(runs))

		runs, err = repo.RunsBefore(ctx, base.Add(3*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(runs))
	})

	t.Run("delete", func(t *testing.T) {
		repo := open(t)
		ctx := context.Background()
		require.NoError(t, repo.SaveRun(ctx, record("a", 0)))
		require.NoError(t, repo.DeleteRun(ctx, "a"))

		_, err := repo.GetRun(ctx, "a")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		runs, err := repo.ListRuns(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, runs)

		assert.ErrorIs(t, repo.DeleteRun(ctx, "a"), storage.ErrNotFound)
	})
}

func ids(runs []*storage.RunRecord) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ProcessingID
	}
	return out
}
