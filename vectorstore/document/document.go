// Package document implements a persistent vector store on badgerhold.
//
// Every collection is its own badger database under {dir}/{collection}.
// Writes are durable as they happen; Persist only syncs. Search scans the
// collection, narrowed by badgerhold queries when a filter is given.
//
// At most MaxOpen databases stay open. The least recently used one is
// closed when another is opened, once no call is still using it.
package document

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
	"time"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/poiesic/tabvec/core"
	badgerstore "github.com/poiesic/tabvec/storage/badger"
	"github.com/poiesic/tabvec/vectorstore"
	"github.com/timshannon/badgerhold/v4"
)

const (
	infoKey      = "collection_info"
	sequenceName = "entry_seq"
)

// DefaultMaxOpen is the default bound on open collection databases.
const DefaultMaxOpen = 16

// record is the stored form of an entry.
type record struct {
	ChunkID     string
	Seq         uint64
	Document    string
	ChunkMethod string `badgerhold:"index"`
	SourceFile  string `badgerhold:"index"`
	SourceRows  []int
	Metadata    map[string]string
	Vector      []float32
}

// collectionInfo fixes the dimension of a collection.
type collectionInfo struct {
	Name      string
	Dimension int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type collection struct {
	name string
	dir  string
	db   *badgerhold.Store
	seq  *badger.Sequence
	info collectionInfo
	mu   sync.Mutex

	// refs and evicted are guarded by Store.mu.
	refs    int
	evicted bool
}

// Store is the document backend.
type Store struct {
	// draining holds evicted handles still in use.
	draining map[string]*collection
	dir      string
	maxOpen  int
	open     *lru.Cache[string, *collection]
	closed   bool
	mu       sync.Mutex
	logger   *slog.Logger
}

var _ vectorstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store) error

// WithMaxOpen bounds the number of collection databases kept open.
func WithMaxOpen(n int) Option {
	return func(s *Store) error {
		if n <= 0 {
			return fmt.Errorf("max open collections must be positive, got %d", n)
		}
		s.maxOpen = n
		return nil
	}
}

// Open opens the backend rooted at dir, creating the directory if needed.
func Open(dir string, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		dir:      dir,
		maxOpen:  DefaultMaxOpen,
		draining: make(map[string]*collection),
		logger:   logger.With("component", "document-store"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	cache, err := lru.NewWithEvict(s.maxOpen, s.evict)
	if err != nil {
		return nil, err
	}
	s.open = cache
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return s, nil
}

// Opener adapts Open to vectorstore.Opener.
func Opener(dir string, logger *slog.Logger) (vectorstore.Store, error) {
	return Open(dir, logger)
}

func (s *Store) Kind() vectorstore.Kind { return vectorstore.KindDocument }

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return core.NewValidationError("collection", "invalid collection name %q", name)
	}
	return nil
}

// acquire returns the open handle of name and pins it until release. With
// create unset a missing collection is a core.CollectionNotFoundError.
func (s *Store) acquire(name string, create bool) (*collection, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, vectorstore.ErrClosed
	}
	c, ok := s.open.Get(name)
	if !ok {
		if c, ok = s.draining[name]; ok {
			delete(s.draining, name)
			c.evicted = false
		} else {
			var err error
			if c, err = s.openCollection(name, create); err != nil {
				return nil, err
			}
		}
		c.refs++
		s.open.Add(name, c)
		return c, nil
	}
	c.refs++
	return c, nil
}

// release unpins c, closing it when it was evicted meanwhile.
func (s *Store) release(c *collection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.refs--
	if c.refs == 0 && c.evicted {
		if s.draining[c.name] == c {
			delete(s.draining, c.name)
		}
		s.closeHandle(c)
	}
}

// evict is the cache eviction callback. The cache is only touched with s.mu
// held, so evict runs under it too.
func (s *Store) evict(name string, c *collection) {
	c.evicted = true
	if c.refs > 0 {
		s.draining[name] = c
		return
	}
	s.closeHandle(c)
}

func (s *Store) closeHandle(c *collection) {
	if err := c.close(); err != nil {
		s.logger.Warn("error closing collection", "collection", c.name, "err", err)
		return
	}
	s.logger.Debug("closed collection", "collection", c.name)
}

// openCollection opens the database of name. Called with s.mu held.
func (s *Store) openCollection(name string, create bool) (*collection, error) {
	dir := filepath.Join(s.dir, name)
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return nil, &core.StorageError{Collection: name, Op: "open", Err: err}
		}
		if !create {
			return nil, &core.CollectionNotFoundError{Collection: name}
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &core.StorageError{Collection: name, Op: "create", Err: err}
		}
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = badgerstore.NewLogger(s.logger)

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, &core.StorageError{Collection: name, Op: "open", Err: err}
	}

	c := &collection{name: name, dir: dir, db: db}
	err = db.Get(infoKey, &c.info)
	switch {
	case errors.Is(err, badgerhold.ErrNotFound) && create:
		now := time.Now().UTC()
		c.info = collectionInfo{Name: name, CreatedAt: now, UpdatedAt: now}
		if err := db.Upsert(infoKey, c.info); err != nil {
			db.Close()
			return nil, &core.StorageError{Collection: name, Op: "create", Err: err}
		}
	case errors.Is(err, badgerhold.ErrNotFound):
		db.Close()
		return nil, &core.CollectionNotFoundError{Collection: name}
	case err != nil:
		db.Close()
		return nil, &core.StorageError{Collection: name, Op: "open", Err: err}
	}

	seq, err := db.Badger().GetSequence([]byte(sequenceName), 100)
	if err != nil {
		db.Close()
		return nil, &core.StorageError{Collection: name, Op: "open", Err: err}
	}
	c.seq = seq
	s.logger.Debug("opened collection", "collection", name, "dimension", c.info.Dimension)
	return c, nil
}

func (s *Store) Upsert(ctx context.Context, name string, chunks []core.EmbeddedChunk, sourceFile string) error {
	c, err := s.acquire(name, true)
	if err != nil {
		return err
	}
	defer s.release(c)
	c.mu.Lock()
	defer c.mu.Unlock()

	dim, err := vectorstore.CheckDimension(name, c.info.Dimension, chunks)
	if err != nil {
		return err
	}
	// The dimension is stored before any entry so that entries left by a
	// cancelled or failed upsert always match it.
	if len(chunks) > 0 {
		info := c.info
		info.Dimension = dim
		info.UpdatedAt = time.Now().UTC()
		if err := c.db.Upsert(infoKey, info); err != nil {
			return &core.StorageError{Collection: name, Op: "upsert", Err: err}
		}
		c.info = info
	}

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := vectorstore.NewEntry(chunk, sourceFile)
		var existing record
		err := c.db.Get(e.ChunkID, &existing)
		switch {
		case err == nil:
			e.Seq = existing.Seq
		case errors.Is(err, badgerhold.ErrNotFound):
			if e.Seq, err = c.seq.Next(); err != nil {
				return &core.StorageError{Collection: name, Op: "upsert", Err: err}
			}
		default:
			return &core.StorageError{Collection: name, Op: "upsert", Err: err}
		}
		if err := c.db.Upsert(e.ChunkID, toRecord(e)); err != nil {
			return &core.StorageError{Collection: name, Op: "upsert", Err: err}
		}
	}

	s.logger.Debug("upserted chunks", "collection", name, "count", len(chunks))
	return nil
}

func (s *Store) Persist(ctx context.Context, name string) (string, error) {
	c, err := s.acquire(name, false)
	if err != nil {
		return "", err
	}
	defer s.release(c)
	if err := c.db.Badger().Sync(); err != nil {
		return "", &core.StorageError{Collection: name, Op: "persist", Err: err}
	}
	return c.dir, nil
}

func (s *Store) Search(ctx context.Context, name string, query []float32, topK int, metric vectorstore.Metric, filter vectorstore.Filter) ([]vectorstore.Hit, error) {
	c, err := s.acquire(name, false)
	if err != nil {
		return nil, err
	}
	defer s.release(c)
	c.mu.Lock()
	dim := c.info.Dimension
	c.mu.Unlock()
	if err := vectorstore.CheckQuery(name, dim, query, topK); err != nil {
		return nil, err
	}
	if dim == 0 {
		return []vectorstore.Hit{}, nil
	}

	var records []record
	if err := c.db.Find(&records, filterQuery(filter)); err != nil {
		return nil, &core.StorageError{Collection: name, Op: "search", Err: err}
	}
	entries := make([]vectorstore.Entry, len(records))
	for i := range records {
		entries[i] = records[i].entry()
	}
	return vectorstore.Rank(entries, query, topK, metric)
}

// filterQuery translates a filter into a badgerhold query. Keys are applied
// in sorted order.
func filterQuery(filter vectorstore.Filter) *badgerhold.Query {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var q *badgerhold.Query
	where := func(field string) *badgerhold.Criterion {
		if q == nil {
			return badgerhold.Where(field)
		}
		return q.And(field)
	}
	for _, k := range keys {
		want := filter[k]
		switch k {
		case "chunk_id":
			q = where("ChunkID").Eq(want)
		case "chunk_method":
			q = where("ChunkMethod").Eq(want)
		case "source_file":
			q = where("SourceFile").Eq(want)
		default:
			key := k
			q = where("Metadata").MatchFunc(func(ra *badgerhold.RecordAccess) (bool, error) {
				meta, ok := ra.Field().(map[string]string)
				if !ok {
					return false, nil
				}
				v, ok := meta[key]
				return ok && v == want, nil
			})
		}
	}
	return q
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	c, err := s.acquire(name, false)
	if errors.Is(err, core.ErrCollectionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.release(c)
	return true, nil
}

func (s *Store) Stats(ctx context.Context, name string) (vectorstore.Stats, error) {
	c, err := s.acquire(name, false)
	if err != nil {
		return vectorstore.Stats{}, err
	}
	defer s.release(c)
	count, err := c.db.Count(&record{}, nil)
	if err != nil {
		return vectorstore.Stats{}, &core.StorageError{Collection: name, Op: "stats", Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return vectorstore.Stats{
		Collection: name,
		Kind:       vectorstore.KindDocument,
		Location:   c.dir,
		Count:      int(count),
		Dimension:  c.info.Dimension,
	}, nil
}

func (s *Store) Collections(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &core.StorageError{Op: "list", Err: err}
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (s *Store) Drop(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vectorstore.ErrClosed
	}
	// A handle still in use is closed by its last release; later opens
	// start from a fresh directory.
	s.open.Remove(name)
	delete(s.draining, name)

	dir := filepath.Join(s.dir, name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &core.CollectionNotFoundError{Collection: name}
	}
	if err := os.RemoveAll(dir); err != nil {
		return &core.StorageError{Collection: name, Op: "drop", Err: err}
	}
	s.logger.Info("dropped collection", "collection", name)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, name := range s.open.Keys() {
		c, _ := s.open.Peek(name)
		c.evicted = true
		if c.refs > 0 {
			continue
		}
		if err := c.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// openCount returns the number of collection databases currently open.
func (s *Store) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return s.open.Len() + len(s.draining)
}

func (c *collection) close() error {
	var errs []error
	if c.seq != nil {
		errs = append(errs, c.seq.Release())
	}
	errs = append(errs, c.db.Close())
	return errors.Join(errs...)
}

func toRecord(e vectorstore.Entry) record {
	return record{
		ChunkID:     e.ChunkID,
		Seq:         e.Seq,
		Document:    e.Document,
		ChunkMethod: e.ChunkMethod,
		SourceFile:  e.SourceFile,
		SourceRows:  e.SourceRows,
		Metadata:    e.Metadata,
		Vector:      e.Vector,
	}
}

func (r record) entry() vectorstore.Entry {
	return vectorstore.Entry{
		ChunkID:     r.ChunkID,
		Seq:         r.Seq,
		Document:    r.Document,
		ChunkMethod: r.ChunkMethod,
		SourceFile:  r.SourceFile,
		SourceRows:  r.SourceRows,
		Metadata:    r.Metadata,
		Vector:      r.Vector,
	}
}
