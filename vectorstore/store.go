package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/tabvec/core"
)

// Kind names a backend.
type Kind string

const (
	KindDocument Kind = "document"
	KindFlat     Kind = "flat"
)

// Kinds lists the supported backends.
var Kinds = []Kind{KindDocument, KindFlat}

// ParseKind validates a backend name. "chroma" and "faiss" are accepted as
// aliases of document and flat.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "document", "chroma":
		return KindDocument, nil
	case "flat", "faiss":
		return KindFlat, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Filter restricts search to entries whose metadata equals every value.
// The keys chunk_id, chunk_method and source_file match entry fields; other
// keys match chunk metadata.
type Filter map[string]string

// Matches reports whether e satisfies the filter.
func (f Filter) Matches(e *Entry) bool {
	for k, want := range f {
		var got string
		switch k {
		case "chunk_id":
			got = e.ChunkID
		case "chunk_method":
			got = e.ChunkMethod
		case "source_file":
			got = e.SourceFile
		default:
			v, ok := e.Metadata[k]
			if !ok {
				return false
			}
			got = v
		}
		if got != want {
			return false
		}
	}
	return true
}

// Entry is a stored chunk.
type Entry struct {
	ChunkID     string
	Seq         uint64
	Document    string
	ChunkMethod string
	SourceFile  string
	SourceRows  []int
	Metadata    map[string]string
	Vector      []float32
}

// NewEntry builds the entry stored for an embedded chunk.
func NewEntry(c core.EmbeddedChunk, sourceFile string) Entry {
	meta := make(map[string]string, len(c.Extra)+2)
	for k, v := range c.Extra {
		meta[k] = core.FormatValue(v)
	}
	meta["model"] = c.Model
	meta["size"] = fmt.Sprint(c.Size)
	return Entry{
		ChunkID:     c.ID,
		Document:    c.Text,
		ChunkMethod: c.Method,
		SourceFile:  sourceFile,
		SourceRows:  append([]int(nil), c.SourceRows...),
		Metadata:    meta,
		Vector:      append([]float32(nil), c.Vector...),
	}
}

// Hit is one search result.
type Hit struct {
	ChunkID     string
	Document    string
	ChunkMethod string
	SourceFile  string
	SourceRows  []int
	Metadata    map[string]string
	Score       float64
	Distance    float64
}

// Stats describes a collection.
type Stats struct {
	Collection string `json:"collection"`
	Kind       Kind   `json:"store_type"`
	Location   string `json:"location"`
	Count      int    `json:"count"`
	Dimension  int    `json:"dimension"`
}

// Store persists collections of embedded chunks and searches them.
// Implementations are safe for concurrent use across collections; concurrent
// writes to one collection are last-writer-wins per chunk id.
type Store interface {
	// Kind returns the backend kind.
	Kind() Kind

	// Upsert inserts or replaces chunks by id, creating the collection when
	// needed. A replaced entry keeps its original insertion order. A vector
	// whose length differs from the collection dimension fails with a
	// core.DimensionMismatchError wrapped in a core.StorageError.
	Upsert(ctx context.Context, collection string, chunks []core.EmbeddedChunk, sourceFile string) error

	// Persist makes the collection durable and returns its location.
	Persist(ctx context.Context, collection string) (string, error)

	// Search ranks the collection's entries against query. It fails with
	// core.CollectionNotFoundError for an unknown collection and returns no
	// hits for an empty one.
	Search(ctx context.Context, collection string, query []float32, topK int, metric Metric, filter Filter) ([]Hit, error)

	// Exists reports whether the collection exists.
	Exists(ctx context.Context, collection string) (bool, error)

	// Stats describes the collection.
	Stats(ctx context.Context, collection string) (Stats, error)

	// Collections lists the known collection names.
	Collections(ctx context.Context) ([]string, error)

	// Drop deletes the collection and its files.
	Drop(ctx context.Context, collection string) error

	// Close releases every open collection.
	Close() error
}

// CheckQuery validates search arguments against a collection dimension.
func CheckQuery(collection string, dim int, query []float32, topK int) error {
	if topK <= 0 {
		return core.NewValidationError("top_k", "must be a positive integer, got %d", topK)
	}
	if len(query) == 0 {
		return core.NewValidationError("query", "query vector is empty")
	}
	if dim > 0 && len(query) != dim {
		return &core.DimensionMismatchError{Collection: collection, Expected: dim, Actual: len(query)}
	}
	return nil
}

// CheckDimension validates chunk vectors against a collection dimension.
// A dim of zero accepts the first vector's length. It returns the dimension.
func CheckDimension(collection string, dim int, chunks []core.EmbeddedChunk) (int, error) {
	for _, c := range chunks {
		if dim == 0 {
			dim = len(c.Vector)
		}
		if len(c.Vector) != dim || dim == 0 {
			return 0, &core.StorageError{Collection: collection, Op: "upsert",
				Err: &core.DimensionMismatchError{Collection: collection, Expected: dim, Actual: len(c.Vector)}}
		}
	}
	return dim, nil
}
