// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package tabvec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/poiesic/tabvec/ai"
	"github.com/poiesic/tabvec/ai/hashing"
	"github.com/poiesic/tabvec/ai/openai"
	"github.com/poiesic/tabvec/chunking"
	"github.com/poiesic/tabvec/config"
	"github.com/poiesic/tabvec/core"
	"github.com/poiesic/tabvec/embedding"
	"github.com/poiesic/tabvec/export"
	"github.com/poiesic/tabvec/janitor"
	"github.com/poiesic/tabvec/pipeline"
	"github.com/poiesic/tabvec/retrieval"
	"github.com/poiesic/tabvec/storage"
	"github.com/poiesic/tabvec/storage/badger"
	"github.com/poiesic/tabvec/storage/sqlite"
	"github.com/poiesic/tabvec/tableio"
	"github.com/poiesic/tabvec/vectorstore"
	"github.com/poiesic/tabvec/vectorstore/document"
	"github.com/poiesic/tabvec/vectorstore/flat"
)

// ErrRetentionDisabled is returned by Cleanup when no retention age is configured.
var ErrRetentionDisabled = errors.New("retention is disabled")

// RunsDir is the run registry directory under the data directory.
const RunsDir = "runs"

// Service wires the processing pipeline, the retriever and the run registry
// over one data directory.
type Service struct {
	cfg       *config.Config
	runs      storage.RunRepository
	stores    *vectorstore.Manager
	provider  *openai.Provider
	batcher   *embedding.Batcher
	pipeline  *pipeline.Pipeline
	retriever *retrieval.Retriever
	janitor   *janitor.Janitor
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	loader    ai.Loader
	tokens    chunking.TokenCounter
	observers []pipeline.Observer
	logger    *slog.Logger
}

// WithLoader replaces the embedding model loader. By default "hash-<dim>"
// models are computed locally and every other model is requested from the
// configured OpenAI-compatible service.
func WithLoader(loader ai.Loader) ServiceOption {
	return func(o *serviceOptions) {
		o.loader = loader
	}
}

// WithTokenCounter sets the token counter used by document_based chunking.
func WithTokenCounter(tc chunking.TokenCounter) ServiceOption {
	return func(o *serviceOptions) {
		o.tokens = tc
	}
}

// WithObserver adds a run state observer.
func WithObserver(obs pipeline.Observer) ServiceOption {
	return func(o *serviceOptions) {
		o.observers = append(o.observers, obs)
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// NewService opens the data directory described by cfg. A nil cfg selects
// config.Default().
func NewService(cfg *config.Config, opts ...ServiceOption) (*Service, error) {
	options := &serviceOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	aiConfig, err := cfg.AI()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Service{cfg: cfg, logger: options.logger.With("component", "service")}

	s.runs, err = openRegistry(cfg, options.logger)
	if err != nil {
		return nil, err
	}

	s.stores = vectorstore.NewManager(cfg.DataDir,
		vectorstore.WithOpener(vectorstore.KindDocument, document.Opener),
		vectorstore.WithOpener(vectorstore.KindFlat, flat.Opener),
		vectorstore.WithManagerLogger(options.logger))

	loader := options.loader
	if loader == nil {
		s.provider, err = openai.NewProvider(aiConfig)
		if err != nil {
			s.Close()
			return nil, err
		}
		router := ai.NewRouter(s.provider)
		router.Handle("hash", hashing.Loader())
		loader = router
	}

	s.batcher, err = embedding.NewBatcher(loader,
		embedding.WithDefaultModel(aiConfig.EmbeddingModel),
		embedding.WithLoadTimeout(aiConfig.LoadTimeout),
		embedding.WithBatchTimeout(aiConfig.BatchTimeout),
		embedding.WithLogger(options.logger))
	if err != nil {
		s.Close()
		return nil, err
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithPoolSize(cfg.Workers),
		pipeline.WithLogger(options.logger),
		pipeline.WithRunRepository(s.runs),
		pipeline.WithExportRoot(cfg.DataDir),
	}
	if options.tokens != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithTokenCounter(options.tokens))
	}
	for _, obs := range options.observers {
		pipelineOpts = append(pipelineOpts, pipeline.WithObserver(obs))
	}
	s.pipeline, err = pipeline.NewPipeline(s.batcher, s.stores, pipelineOpts...)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.retriever, err = retrieval.NewRetriever(s.batcher, s.stores,
		retrieval.WithRunRepository(s.runs),
		retrieval.WithDefaultKind(cfg.Kind()),
		retrieval.WithLogger(options.logger))
	if err != nil {
		s.Close()
		return nil, err
	}

	maxAge, err := cfg.MaxAge()
	if err != nil {
		s.Close()
		return nil, err
	}
	if maxAge > 0 {
		s.janitor, err = janitor.NewJanitor(s.runs, s.stores, maxAge,
			janitor.WithExportRoot(cfg.DataDir),
			janitor.WithLogger(options.logger))
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	s.logger.Info("service opened", "data_dir", cfg.DataDir, "registry", cfg.Registry,
		"workers", cfg.Workers, "model", aiConfig.EmbeddingModel)
	return s, nil
}

func openRegistry(cfg *config.Config, logger *slog.Logger) (storage.RunRepository, error) {
	dir := filepath.Join(cfg.DataDir, RunsDir)
	switch cfg.Registry {
	case config.RegistrySQLite:
		return sqlite.Open(dir, logger)
	default:
		return badger.Open(dir, logger)
	}
}

// Close waits for submitted runs and releases every resource.
func (s *Service) Close() error {
	if s.janitor != nil {
		s.janitor.Stop()
	}
	if s.pipeline != nil {
		s.pipeline.Release()
	}
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Error("error closing AI provider", "err", err)
		}
	}

	var errs []error
	if s.stores != nil {
		if err := s.stores.Close(); err != nil {
			s.logger.Error("error closing vector stores", "err", err)
			errs = append(errs, err)
		}
	}
	if s.runs != nil {
		if err := s.runs.Close(); err != nil {
			s.logger.Error("error closing run registry", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config returns the service settings.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Runs returns the run registry.
func (s *Service) Runs() storage.RunRepository {
	return s.runs
}

// Pipeline returns the processing pipeline.
func (s *Service) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// Retriever returns the retriever.
func (s *Service) Retriever() *retrieval.Retriever {
	return s.retriever
}

// Process runs req to completion.
func (s *Service) Process(ctx context.Context, req pipeline.Request) (*core.ProcessingResult, error) {
	return s.pipeline.Process(ctx, req)
}

// Submit schedules req and returns without waiting.
func (s *Service) Submit(ctx context.Context, req pipeline.Request) (*pipeline.Job, error) {
	return s.pipeline.Submit(ctx, req)
}

// ProcessFile decodes the CSV file at path and processes it with rc.
func (s *Service) ProcessFile(ctx context.Context, path string, rc config.RunConfig, opts tableio.Options) (*core.ProcessingResult, error) {
	table, err := tableio.ReadCSVFile(path, opts)
	if err != nil {
		return nil, core.NewValidationError("file", "%v", err)
	}
	return s.pipeline.Process(ctx, pipeline.Request{
		SourceFile: filepath.Base(path),
		Table:      table,
		Config:     rc,
	})
}

// Search answers a similarity query.
func (s *Service) Search(ctx context.Context, req retrieval.Request) (*retrieval.Response, error) {
	return s.retriever.Search(ctx, req)
}

// Stats returns statistics about a run's collection.
func (s *Service) Stats(ctx context.Context, processingID string) (vectorstore.Stats, error) {
	return s.retriever.Info(ctx, processingID)
}

// Summary returns the result recorded for a completed run.
func (s *Service) Summary(ctx context.Context, processingID string) (*core.ProcessingResult, error) {
	rec, err := s.runs.GetRun(ctx, processingID)
	if err == nil && rec.Result != nil {
		return rec.Result, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return export.ReadSummary(s.cfg.DataDir, processingID)
}

// Cleanup removes runs older than the configured retention age.
func (s *Service) Cleanup(ctx context.Context) (*janitor.Report, error) {
	if s.janitor == nil {
		return nil, ErrRetentionDisabled
	}
	return s.janitor.Sweep(ctx)
}

// StartRetention schedules cleanup when a retention schedule is configured.
// It reports whether a schedule was started.
func (s *Service) StartRetention(ctx context.Context) (bool, error) {
	if s.janitor == nil || s.cfg.Retention.Schedule == "" {
		return false, nil
	}
	if err := s.janitor.Start(ctx, s.cfg.Retention.Schedule); err != nil {
		return false, err
	}
	return true, nil
}
