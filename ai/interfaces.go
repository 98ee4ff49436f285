package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Loader resolves an embedding model by name. Loading may be slow (network
// handshakes, model downloads); callers are expected to cache the result.
type Loader interface {
	Load(ctx context.Context, model string) (Embedder, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, model string) (Embedder, error)

func (f LoaderFunc) Load(ctx context.Context, model string) (Embedder, error) {
	return f(ctx, model)
}
