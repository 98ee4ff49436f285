package chunking

import (
	"context"
	"log/slog"

	"github.com/poiesic/tabvec/core"
)

// Fixed partitions rows into contiguous blocks of ChunkSize rows. With a
// non-zero Overlap consecutive blocks share Overlap rows.
type Fixed struct {
	ChunkSize int
	Overlap   int
	logger    *slog.Logger
}

func newFixed(p Params, logger *slog.Logger) (*Fixed, error) {
	size, err := positiveOrDefault(MethodFixed, "chunk_size", p.ChunkSize, DefaultFixedChunkSize)
	if err != nil {
		return nil, err
	}
	if p.Overlap < 0 {
		return nil, invalid(MethodFixed, "overlap", "must be a non-negative integer")
	}
	if p.Overlap >= size {
		return nil, invalid(MethodFixed, "overlap", "must be smaller than chunk_size")
	}
	return &Fixed{ChunkSize: size, Overlap: p.Overlap, logger: logger}, nil
}

// NewFixed returns a fixed strategy, used as the coordinator's fallback.
func NewFixed(chunkSize int) (*Fixed, error) {
	return newFixed(Params{ChunkSize: chunkSize}, slog.Default().With("component", "chunking", "method", string(MethodFixed)))
}

func (f *Fixed) Method() Method { return MethodFixed }

func (f *Fixed) check(*core.Table) error { return nil }

func (f *Fixed) Chunk(ctx context.Context, table *core.Table) (*Result, error) {
	return run(ctx, f, table, func(ctx context.Context, b *builder) error {
		n := table.NumRows()
		step := f.ChunkSize - f.Overlap
		for start := 0; start < n; start += step {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(start+f.ChunkSize, n)
			rows := rowRange(start, end)
			b.add(rows, len(rows), map[string]any{"start_row": start, "end_row": end - 1})
			if end == n {
				break
			}
		}
		f.logger.Debug("fixed chunking complete", "chunks", len(b.chunks), "rows", n)
		return nil
	})
}
