// Package flat implements an in-memory vector index that is written to disk
// only on Persist.
//
// A persisted collection is a directory holding index.bin (little-endian
// vectors in insertion order) and metadata.json (the parallel entry array).
// Collections are loaded lazily on first access.
package flat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/poiesic/tabvec/core"
	"github.com/poiesic/tabvec/vectorstore"
)

const (
	indexFile    = "index.bin"
	metadataFile = "metadata.json"
)

type collection struct {
	name    string
	dim     int
	entries []vectorstore.Entry
	byID    map[string]int
	nextSeq uint64
	mu      sync.RWMutex
}

// Store is the flat backend.
type Store struct {
	dir         string
	collections map[string]*collection
	closed      bool
	mu          sync.Mutex
	logger      *slog.Logger
}

var _ vectorstore.Store = (*Store)(nil)

// Open opens the backend rooted at dir, creating the directory if needed.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{
		dir:         dir,
		collections: make(map[string]*collection),
		logger:      logger.With("component", "flat-store"),
	}, nil
}

// Opener adapts Open to vectorstore.Opener.
func Opener(dir string, logger *slog.Logger) (vectorstore.Store, error) {
	return Open(dir, logger)
}

func (s *Store) Kind() vectorstore.Kind { return vectorstore.KindFlat }

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return core.NewValidationError("collection", "invalid collection name %q", name)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// collection returns the in-memory collection, loading it from disk when
// persisted. With create unset a missing collection is a
// core.CollectionNotFoundError.
func (s *Store) collection(name string, create bool) (*collection, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, vectorstore.ErrClosed
	}
	if c, ok := s.collections[name]; ok {
		return c, nil
	}

	c, err := load(s.path(name), name)
	switch {
	case err == nil:
		s.logger.Debug("loaded collection", "collection", name, "entries", len(c.entries))
	case errors.Is(err, os.ErrNotExist) && create:
		c = &collection{name: name, byID: make(map[string]int)}
	case errors.Is(err, os.ErrNotExist):
		return nil, &core.CollectionNotFoundError{Collection: name}
	default:
		return nil, &core.StorageError{Collection: name, Op: "load", Err: err}
	}
	s.collections[name] = c
	return c, nil
}

func (s *Store) Upsert(ctx context.Context, name string, chunks []core.EmbeddedChunk, sourceFile string) error {
	c, err := s.collection(name, true)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dim, err := vectorstore.CheckDimension(name, c.dim, chunks)
	if err != nil {
		return err
	}
	// Entries written before a cancellation must match the collection.
	if len(chunks) > 0 {
		c.dim = dim
	}
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := vectorstore.NewEntry(chunk, sourceFile)
		if i, ok := c.byID[e.ChunkID]; ok {
			e.Seq = c.entries[i].Seq
			c.entries[i] = e
			continue
		}
		e.Seq = c.nextSeq
		c.nextSeq++
		c.byID[e.ChunkID] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return nil
}

func (s *Store) Persist(ctx context.Context, name string) (string, error) {
	c, err := s.collection(name, false)
	if err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := s.path(name)
	if err := save(dir, c); err != nil {
		return "", &core.StorageError{Collection: name, Op: "persist", Err: err}
	}
	s.logger.Debug("persisted collection", "collection", name, "entries", len(c.entries), "dir", dir)
	return dir, nil
}

func (s *Store) Search(ctx context.Context, name string, query []float32, topK int, metric vectorstore.Metric, filter vectorstore.Filter) ([]vectorstore.Hit, error) {
	c, err := s.collection(name, false)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := vectorstore.CheckQuery(name, c.dim, query, topK); err != nil {
		return nil, err
	}
	if len(c.entries) == 0 {
		return []vectorstore.Hit{}, nil
	}
	candidates := c.entries
	if len(filter) > 0 {
		candidates = make([]vectorstore.Entry, 0, len(c.entries))
		for i := range c.entries {
			if filter.Matches(&c.entries[i]) {
				candidates = append(candidates, c.entries[i])
			}
		}
	}
	return vectorstore.Rank(candidates, query, topK, metric)
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.collection(name, false)
	if errors.Is(err, core.ErrCollectionNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Stats(ctx context.Context, name string) (vectorstore.Stats, error) {
	c, err := s.collection(name, false)
	if err != nil {
		return vectorstore.Stats{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return vectorstore.Stats{
		Collection: name,
		Kind:       vectorstore.KindFlat,
		Location:   s.path(name),
		Count:      len(c.entries),
		Dimension:  c.dim,
	}, nil
}

func (s *Store) Collections(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &core.StorageError{Op: "list", Err: err}
	}
	for _, e := range entries {
		if e.IsDir() && !slices.Contains(names, e.Name()) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func (s *Store) Drop(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, inMemory := s.collections[name]
	delete(s.collections, name)

	dir := s.path(name)
	_, statErr := os.Stat(dir)
	if !inMemory && os.IsNotExist(statErr) {
		return &core.CollectionNotFoundError{Collection: name}
	}
	if err := os.RemoveAll(dir); err != nil {
		return &core.StorageError{Collection: name, Op: "drop", Err: err}
	}
	s.logger.Info("dropped collection", "collection", name)
	return nil
}

// Close discards in-memory state. Unpersisted collections are lost.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = nil
	return nil
}
