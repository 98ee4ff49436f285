package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/poiesic/tabvec/ai"
)

// MockLoader is a test double for ai.Loader.
type MockLoader struct {
	// LoadFunc is called by Load if set.
	LoadFunc func(ctx context.Context, model string) (ai.Embedder, error)

	embedder  *MockEmbedder
	loadCount atomic.Int64

	mu     sync.Mutex
	models []string
}

// NewMockLoader creates a loader that returns a shared MockEmbedder.
func NewMockLoader() *MockLoader {
	return NewMockLoaderWithEmbedder(NewMockEmbedder())
}

// NewMockLoaderWithEmbedder creates a loader that returns embedder for every model.
func NewMockLoaderWithEmbedder(embedder *MockEmbedder) *MockLoader {
	return &MockLoader{embedder: embedder}
}

// Load returns the mock embedder.
func (l *MockLoader) Load(ctx context.Context, model string) (ai.Embedder, error) {
	l.loadCount.Add(1)
	l.mu.Lock()
	l.models = append(l.models, model)
	l.mu.Unlock()

	if l.LoadFunc != nil {
		return l.LoadFunc(ctx, model)
	}
	return l.embedder, nil
}

// LoadCount returns the number of Load calls.
func (l *MockLoader) LoadCount() int {
	return int(l.loadCount.Load())
}

// Models returns the model names requested so far.
func (l *MockLoader) Models() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.models...)
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (l *MockLoader) GetMockEmbedder() *MockEmbedder {
	return l.embedder
}
