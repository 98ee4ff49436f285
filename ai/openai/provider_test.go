package openai

import (
	"context"
	"testing"

	"github.com/poiesic/tabvec/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	t.Run("normalizes host", func(t *testing.T) {
		cfg := ai.NewConfig(ai.WithEmbeddingHost("http://localhost:11434"))
		p, err := NewProvider(cfg)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:11434/v1", p.config.EmbeddingHost)
		assert.NoError(t, p.Close())
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		cfg := ai.NewConfig(ai.WithEmbeddingModel(""))
		_, err := NewProvider(cfg)
		assert.Error(t, err)
	})
}

func TestProvider_Load(t *testing.T) {
	p, err := NewProvider(ai.DefaultConfig())
	require.NoError(t, err)

	t.Run("default model", func(t *testing.T) {
		e, err := p.Load(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, "nomic-embed-text", e.(*Embedder).Model())
	})

	t.Run("named model", func(t *testing.T) {
		e, err := p.Load(context.Background(), "all-minilm")
		require.NoError(t, err)
		assert.Equal(t, "all-minilm", e.(*Embedder).Model())
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.Load(ctx, "all-minilm")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewLimiter(t *testing.T) {
	assert.True(t, newLimiter(0).Allow())
	l := newLimiter(0.5)
	assert.Equal(t, 1, l.Burst())
	assert.Equal(t, 4, newLimiter(4).Burst())
}
