package chunking

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/poiesic/tabvec/core"
)

// Recursive splits blocks of rows in half until each block's serialized text
// fits in ChunkSize characters or holds a single row.
type Recursive struct {
	ChunkSize int
	// MaxRows bounds the initial block. Zero starts from the whole table.
	MaxRows int
	logger  *slog.Logger
}

func newRecursive(p Params, logger *slog.Logger) (*Recursive, error) {
	size, err := positiveOrDefault(MethodRecursive, "chunk_size", p.ChunkSize, DefaultRecursiveChunkSize)
	if err != nil {
		return nil, err
	}
	if p.MaxRows < 0 {
		return nil, invalid(MethodRecursive, "max_rows", "must be a non-negative integer")
	}
	return &Recursive{ChunkSize: size, MaxRows: p.MaxRows, logger: logger}, nil
}

func (r *Recursive) Method() Method { return MethodRecursive }

func (r *Recursive) check(*core.Table) error { return nil }

func (r *Recursive) Chunk(ctx context.Context, table *core.Table) (*Result, error) {
	return run(ctx, r, table, func(ctx context.Context, b *builder) error {
		n := table.NumRows()
		lengths := make([]int, n)
		for i, text := range b.texts {
			lengths[i] = utf8.RuneCountInString(text)
		}
		block := r.MaxRows
		if block == 0 {
			block = n
		}
		for lo := 0; lo < n; lo += block {
			if err := r.split(ctx, b, lengths, lo, min(lo+block, n)); err != nil {
				return err
			}
		}
		r.logger.Debug("recursive chunking complete", "chunks", len(b.chunks), "rows", n)
		return nil
	})
}

// split emits rows [lo, hi) as one chunk or recurses into both halves.
func (r *Recursive) split(ctx context.Context, b *builder, lengths []int, lo, hi int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	size := hi - lo - 1 // newlines between rows
	for _, l := range lengths[lo:hi] {
		size += l
	}
	if size <= r.ChunkSize || hi-lo == 1 {
		extra := map[string]any{"rows": hi - lo, "start_row": lo, "end_row": hi - 1}
		if size > r.ChunkSize {
			extra["oversized"] = true
		}
		b.add(rowRange(lo, hi), size, extra)
		return nil
	}
	mid := lo + (hi-lo)/2
	if err := r.split(ctx, b, lengths, lo, mid); err != nil {
		return err
	}
	return r.split(ctx, b, lengths, mid, hi)
}
