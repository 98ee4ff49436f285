package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNoLoader is returned when no loader handles a model name.
var ErrNoLoader = errors.New("no loader for model")

// Router dispatches model names to loaders by prefix. The longest matching
// prefix wins; names matching no prefix go to the fallback loader.
type Router struct {
	mu       sync.RWMutex
	prefixes map[string]Loader
	fallback Loader
}

// NewRouter creates a router. fallback may be nil.
func NewRouter(fallback Loader) *Router {
	return &Router{prefixes: make(map[string]Loader), fallback: fallback}
}

// Handle registers a loader for model names starting with prefix.
func (r *Router) Handle(prefix string, loader Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes[prefix] = loader
}

// Load resolves model through the matching loader.
func (r *Router) Load(ctx context.Context, model string) (Embedder, error) {
	r.mu.RLock()
	var best string
	var loader Loader
	for prefix, l := range r.prefixes {
		if strings.HasPrefix(model, prefix) && len(prefix) >= len(best) {
			best, loader = prefix, l
		}
	}
	if loader == nil {
		loader = r.fallback
	}
	r.mu.RUnlock()

	if loader == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoLoader, model)
	}
	return loader.Load(ctx, model)
}
