package tabvec

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/poiesic/tabvec/chunking"
	"github.com/poiesic/tabvec/config"
	"github.com/poiesic/tabvec/pipeline"
	"github.com/poiesic/tabvec/retrieval"
	"github.com/poiesic/tabvec/storage"
	"github.com/poiesic/tabvec/tableio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const peopleCSV = `Name,City,Score
alice,paris,10
bob,berlin,20
carol,paris,30
dave,rome,40
erin,berlin,50
frank,rome,60
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Workers = 2
	cfg.Embedding.Model = "hash-64"
	return cfg
}

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "people.csv")
	require.NoError(t, os.WriteFile(path, []byte(peopleCSV), 0o644))
	return path
}

func TestNewService(t *testing.T) {
	t.Run("create new service", func(t *testing.T) {
		s, err := NewService(testConfig(t))
		require.NoError(t, err)
		require.NotNil(t, s)
		defer s.Close()

		assert.NotNil(t, s.Runs())
		assert.NotNil(t, s.Pipeline())
		assert.NotNil(t, s.Retriever())
		assert.NotNil(t, s.provider)
		assert.Nil(t, s.janitor)
		_, err = os.Stat(filepath.Join(s.Config().DataDir, RunsDir))
		assert.NoError(t, err)
	})

	t.Run("error with invalid path", func(t *testing.T) {
		cfg := testConfig(t)
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0o644))
		cfg.DataDir = tmpFile

		s, err := NewService(cfg)
		assert.Error(t, err)
		assert.Nil(t, s)
	})

	t.Run("error with invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Registry = "postgres"
		_, err := NewService(cfg)
		assert.Error(t, err)
	})
}

func TestService_ProcessAndSearch(t *testing.T) {
	for _, registry := range []string{config.RegistryBadger, config.RegistrySQLite} {
		t.Run(registry, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Registry = registry

			var mu sync.Mutex
			var states []pipeline.State
			s, err := NewService(cfg, WithObserver(func(ev pipeline.Event) {
				mu.Lock()
				states = append(states, ev.To)
				mu.Unlock()
			}))
			require.NoError(t, err)
			defer s.Close()
			ctx := context.Background()

			res, err := s.ProcessFile(ctx, writeCSV(t), config.RunConfig{
				Chunking: config.Chunking{Params: chunking.Params{ChunkSize: 2}},
			}, tableio.Options{})
			require.NoError(t, err)
			assert.Equal(t, "people.csv", res.SourceFile)
			assert.Equal(t, 3, res.Chunking.TotalChunks)
			assert.Equal(t, "hash-64", res.Embedding.Model)
			assert.Equal(t, 64, res.Embedding.VectorDimension)
			assert.Len(t, res.DownloadLinks, 4)
			assert.Equal(t, pipeline.StateCompleted, states[len(states)-1])

			resp, err := s.Search(ctx, retrieval.Request{ProcessingID: res.ProcessingID, Query: "carol paris", TopK: 2})
			require.NoError(t, err)
			require.Len(t, resp.Results, 2)
			assert.Equal(t, 1, resp.Results[0].Rank)
			assert.Equal(t, "hash-64", resp.SearchMetadata.Model)

			stats, err := s.Stats(ctx, res.ProcessingID)
			require.NoError(t, err)
			assert.Equal(t, 3, stats.Count)
			assert.Equal(t, 64, stats.Dimension)

			runs, err := s.Runs().ListRuns(ctx, 10)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Equal(t, storage.RunCompleted, runs[0].Status)

			summary, err := s.Summary(ctx, res.ProcessingID)
			require.NoError(t, err)
			assert.Equal(t, res.ProcessingID, summary.ProcessingID)
			assert.Equal(t, 3, summary.Chunking.TotalChunks)
		})
	}
}

func TestService_Reopen(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	s, err := NewService(cfg)
	require.NoError(t, err)
	res, err := s.ProcessFile(ctx, writeCSV(t), config.RunConfig{Mode: config.ModeDeep,
		Chunking: config.Chunking{Params: chunking.Params{KeyColumn: "city"}}}, tableio.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewService(cfg)
	require.NoError(t, err)
	defer s.Close()

	resp, err := s.Search(ctx, retrieval.Request{ProcessingID: res.ProcessingID, Query: "rome", TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.TotalResults)
	assert.Equal(t, "flat", string(resp.SearchMetadata.StoreType))
}

func TestService_ProcessFileErrors(t *testing.T) {
	s, err := NewService(testConfig(t))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ProcessFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), config.RunConfig{}, tableio.Options{})
	assert.Error(t, err)
}

func TestService_Cleanup(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s, err := NewService(testConfig(t))
		require.NoError(t, err)
		defer s.Close()
		_, err = s.Cleanup(context.Background())
		assert.ErrorIs(t, err, ErrRetentionDisabled)
		started, err := s.StartRetention(context.Background())
		require.NoError(t, err)
		assert.False(t, started)
	})

	t.Run("enabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Retention.MaxAge = "24h"
		cfg.Retention.Schedule = "@daily"
		s, err := NewService(cfg)
		require.NoError(t, err)
		defer s.Close()
		ctx := context.Background()

		_, err = s.ProcessFile(ctx, writeCSV(t), config.RunConfig{}, tableio.Options{})
		require.NoError(t, err)

		report, err := s.Cleanup(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.Examined, "fresh runs are kept")

		started, err := s.StartRetention(ctx)
		require.NoError(t, err)
		assert.True(t, started)
	})
}
