package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/poiesic/tabvec/chunking"
	"github.com/poiesic/tabvec/core"
	"github.com/poiesic/tabvec/embedding"
	"github.com/poiesic/tabvec/export"
)

// preprocess normalizes the input table.
func (p *Pipeline) preprocess(ctx context.Context, r *run) error {
	res, err := p.preprocessor.Run(ctx, r.table, r.cfg.Preprocess)
	if err != nil {
		return err
	}
	r.pre = res
	r.table = res.Table
	return nil
}

// chunk runs the configured strategy. A core.ChunkingError is retried once
// with fixed chunking at the default size; every other error is returned.
func (p *Pipeline) chunk(ctx context.Context, r *run) error {
	opts := []chunking.Option{chunking.WithLogger(p.logger.With("processing_id", r.id))}
	if p.tokens != nil {
		opts = append(opts, chunking.WithTokenCounter(p.tokens))
	}
	if r.cfg.Method == chunking.MethodSemantic && r.cfg.Params.UseEmbeddings {
		embedder, err := p.batcher.Model(ctx, r.cfg.Model)
		if err != nil {
			return err
		}
		opts = append(opts, chunking.WithRowEmbedder(embedder))
	}

	res, err := chunking.Chunk(ctx, r.table, r.cfg.Method, r.cfg.Params, opts...)
	var cerr *core.ChunkingError
	if errors.As(err, &cerr) {
		p.logger.Warn("chunking failed, falling back to fixed chunking",
			"processing_id", r.id, "method", r.cfg.Method, "chunk_size", chunking.DefaultFixedChunkSize, "err", err)
		fallback, ferr := chunking.Chunk(ctx, r.table, chunking.MethodFixed,
			chunking.Params{ChunkSize: chunking.DefaultFixedChunkSize}, opts...)
		if ferr != nil {
			return fmt.Errorf("fixed fallback failed: %w (after %v)", ferr, err)
		}
		r.fallback = &core.Fallback{From: string(r.cfg.Method), To: string(chunking.MethodFixed), Reason: err.Error()}
		res, err = fallback, nil
	}
	if err != nil {
		return err
	}
	r.chunks = res
	// The table is not needed past chunking.
	r.table = nil
	return nil
}

// embed embeds every chunk. Any batch failure fails the run.
func (p *Pipeline) embed(ctx context.Context, r *run) error {
	var opts []embedding.EmbedOption
	if r.progress != nil {
		opts = append(opts, embedding.WithProgressFunc(r.progress))
	}
	batch := r.cfg.BatchSize
	if batch <= 0 {
		batch = embedding.DefaultBatchSize
	}
	res, err := p.batcher.Embed(ctx, r.chunks.Chunks, r.cfg.Model, batch, opts...)
	if err != nil {
		return err
	}
	r.embedded = res
	return nil
}

// store upserts the embedded chunks into the run's collection and persists it.
func (p *Pipeline) store(ctx context.Context, r *run) error {
	store, err := p.stores.Open(r.cfg.Kind)
	if err != nil {
		return &core.StorageError{Collection: core.CollectionName(r.id), Op: "open", Err: err}
	}
	collection := core.CollectionName(r.id)
	if err := store.Upsert(ctx, collection, r.embedded.Chunks, r.source); err != nil {
		p.dropCollection(r)
		return err
	}
	location, err := store.Persist(ctx, collection)
	if err != nil {
		p.dropCollection(r)
		return err
	}
	r.storage = core.StorageSummary{
		StoreType:  string(r.cfg.Kind),
		Collection: collection,
		Location:   location,
		Metric:     string(r.cfg.Metric),
		Count:      len(r.embedded.Chunks),
	}
	return nil
}

// export writes the download files and records their paths in result.
func (p *Pipeline) export(r *run, result *core.ProcessingResult) error {
	if p.exportRoot == "" {
		return nil
	}
	dir, err := export.Dir(p.exportRoot, r.id)
	if err != nil {
		return err
	}
	links := make([]string, len(export.Files))
	for i, name := range export.Files {
		links[i] = filepath.Join(dir, name)
	}
	result.DownloadLinks = links

	bundle := &export.Bundle{
		Result:          result,
		Chunks:          r.embedded.Chunks,
		FileMetadata:    r.pre.FileMetadata,
		NumericMetadata: r.pre.NumericMetadata,
		ChunkMetadata:   r.chunks.Metadata(),
	}
	paths, err := export.Write(p.exportRoot, bundle)
	if err != nil {
		result.DownloadLinks = nil
		return err
	}
	result.DownloadLinks = paths
	return nil
}

// dropCollection removes a partially written collection.
func (p *Pipeline) dropCollection(r *run) {
	store, err := p.stores.Open(r.cfg.Kind)
	if err != nil {
		return
	}
	if err := store.Drop(context.Background(), core.CollectionName(r.id)); err != nil && !errors.Is(err, core.ErrCollectionNotFound) {
		p.logger.Warn("failed to drop collection", "processing_id", r.id, "err", err)
	}
}
