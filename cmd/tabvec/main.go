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
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/poiesic/tabvec"
	"github.com/poiesic/tabvec/chunking"
	"github.com/poiesic/tabvec/config"
	"github.com/poiesic/tabvec/core"
	"github.com/poiesic/tabvec/embedding"
	"github.com/poiesic/tabvec/pipeline"
	"github.com/poiesic/tabvec/retrieval"
	"github.com/poiesic/tabvec/tableio"
	"github.com/poiesic/tabvec/vectorstore"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "tabvec",
		Usage: "Turn tabular data into searchable vector collections",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML or YAML service config file",
				EnvVars: []string{"TABVEC_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Data directory (overrides the config file)",
				EnvVars: []string{"TABVEC_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:  "embedding-model",
				Usage: "Default embedding model (overrides the config file)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "process",
				Usage:     "Preprocess, chunk, embed and store a CSV file",
				ArgsUsage: "<file.csv>",
				Action:    processCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run-config",
						Usage: "Path to a TOML or YAML run config file",
					},
					&cli.StringFlag{
						Name:  "mode",
						Usage: "Layer mode (fast, config, deep)",
					},
					&cli.StringFlag{
						Name:  "method",
						Usage: "Chunking method (fixed, recursive, semantic, document_based)",
					},
					&cli.IntFlag{
						Name:  "chunk-size",
						Usage: "Rows per chunk for fixed chunking",
					},
					&cli.StringFlag{
						Name:  "key-column",
						Usage: "Grouping column for document_based chunking",
					},
					&cli.StringFlag{
						Name:  "store",
						Usage: "Vector store (document, flat)",
					},
					&cli.StringFlag{
						Name:  "model",
						Usage: "Embedding model for this run",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks per embedding batch",
					},
					&cli.StringFlag{
						Name:  "tiktoken",
						Usage: "Count document_based tokens with the tiktoken encoding of this model",
					},
					&cli.StringFlag{
						Name:  "delimiter",
						Usage: "Field delimiter",
						Value: ",",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the result as JSON",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search the collection of a run",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Processing id of the run",
						Required: true,
					},
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of results",
						Value:   retrieval.DefaultTopK,
					},
					&cli.StringFlag{
						Name:  "metric",
						Usage: "Similarity metric (cosine, dot, euclidean)",
						Value: string(vectorstore.MetricCosine),
					},
					&cli.StringFlag{
						Name:  "model",
						Usage: "Embedding model for the query (defaults to the run's model)",
					},
					&cli.StringSliceFlag{
						Name:  "filter",
						Usage: "Metadata filter as key=value, repeatable",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the response as JSON",
					},
				},
			},
			{
				Name:   "runs",
				Usage:  "List recorded runs, most recent first",
				Action: runsCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs to list (0 lists all)",
						Value: 20,
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Show collection statistics of a run",
				Action: statsCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Processing id of the run",
						Required: true,
					},
				},
			},
			{
				Name:   "cleanup",
				Usage:  "Remove runs older than the retention age",
				Action: cleanupCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "max-age",
						Usage: "Retention age (overrides the config file)",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Keep running and clean up on the configured schedule",
					},
				},
			},
		},
	}
}

// loadConfig builds the service config from the global flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if model := c.String("embedding-model"); model != "" {
		cfg.Embedding.Model = model
	}
	return cfg, nil
}

func openService(c *cli.Context, cfg *config.Config, opts ...tabvec.ServiceOption) (*tabvec.Service, error) {
	if cfg == nil {
		var err error
		if cfg, err = loadConfig(c); err != nil {
			return nil, err
		}
	}
	s, err := tabvec.NewService(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open data directory: %w", err)
	}
	return s, nil
}

// runConfig merges the run config file with the process flags.
func runConfig(c *cli.Context) (config.RunConfig, error) {
	var rc config.RunConfig
	if path := c.String("run-config"); path != "" {
		loaded, err := config.LoadRunConfig(path)
		if err != nil {
			return rc, fmt.Errorf("failed to load run config: %w", err)
		}
		rc = *loaded
	}
	if mode := c.String("mode"); mode != "" {
		rc.Mode = config.Mode(mode)
	}
	if method := c.String("method"); method != "" {
		rc.Chunking.Method = method
	}
	if size := c.Int("chunk-size"); size > 0 {
		rc.Chunking.Params.ChunkSize = size
	}
	if key := c.String("key-column"); key != "" {
		rc.Chunking.Params.KeyColumn = key
	}
	if store := c.String("store"); store != "" {
		rc.Storage.StoreType = store
	}
	if model := c.String("model"); model != "" {
		rc.Embedding.ModelName = model
	}
	if batch := c.Int("batch-size"); batch > 0 {
		rc.Embedding.BatchSize = batch
	}
	return rc, nil
}

func parseDelimiter(s string) (rune, error) {
	if s == "\\t" || s == "tab" {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	return r, nil
}

func processCommand(c *cli.Context) error {
	ctx := context.Background()

	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("input file is required")
	}
	comma, err := parseDelimiter(c.String("delimiter"))
	if err != nil {
		return err
	}
	rc, err := runConfig(c)
	if err != nil {
		return err
	}
	table, err := tableio.ReadCSVFile(path, tableio.Options{Comma: comma})
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var opts []tabvec.ServiceOption
	if model := c.String("tiktoken"); model != "" {
		opts = append(opts, tabvec.WithTokenCounter(chunking.DefaultTokenCounter(model, slog.Default())))
	}
	s, err := openService(c, nil, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Fprintf(os.Stderr, "Input: %s (%d rows, %d columns)\n", path, table.NumRows(), table.NumColumns())
	fmt.Fprintf(os.Stderr, "Data directory: %s\n", s.Config().DataDir)
	fmt.Fprintln(os.Stderr)

	var tracker *embedding.ProgressTracker
	result, err := s.Process(ctx, pipeline.Request{
		SourceFile: filepath.Base(path),
		Table:      table,
		Config:     rc,
		Progress: func(done, total int) {
			if tracker == nil {
				tracker = embedding.NewProgressTracker(os.Stderr, total, 1)
				tracker.Start()
			}
			tracker.Update(done)
			if done >= total {
				tracker.Finish()
			}
		},
	})
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	if c.Bool("json") {
		return printJSON(result)
	}
	printResult(result)
	return nil
}

func printResult(r *core.ProcessingResult) {
	fmt.Printf("Processing id: %s\n", r.ProcessingID)
	fmt.Printf("Rows: %d in, %d after preprocessing\n", r.RowsIn, r.RowsOut)
	fmt.Printf("Chunking: %s, %d chunks, quality %s (%.2f)\n", r.Chunking.Method, r.Chunking.TotalChunks,
		r.Chunking.Quality.OverallQuality, r.Chunking.Quality.QualityScore)
	if fb := r.Chunking.Fallback; fb != nil {
		fmt.Printf("  fell back from %s to %s: %s\n", fb.From, fb.To, fb.Reason)
	}
	fmt.Printf("Embedding: %s, dimension %d, %d batches\n", r.Embedding.Model, r.Embedding.VectorDimension, r.Embedding.Batches)
	fmt.Printf("Storage: %s collection %s at %s\n", r.Storage.StoreType, r.Storage.Collection, r.Storage.Location)
	for _, t := range r.Timings {
		fmt.Printf("  %-14s %s\n", t.Stage, t.Duration.Round(time.Millisecond))
	}
	fmt.Printf("Total: %s\n", r.TotalDuration.Round(time.Millisecond))
	for _, link := range r.DownloadLinks {
		fmt.Printf("  %s\n", link)
	}
}

func parseFilter(pairs []string) (vectorstore.Filter, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filter := make(vectorstore.Filter, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q: expected key=value", pair)
		}
		filter[key] = value
	}
	return filter, nil
}

func searchCommand(c *cli.Context) error {
	ctx := context.Background()

	query := strings.Join(c.Args().Slice(), " ")
	if query == "" {
		return fmt.Errorf("query is required")
	}
	filter, err := parseFilter(c.StringSlice("filter"))
	if err != nil {
		return err
	}

	s, err := openService(c, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	resp, err := s.Search(ctx, retrieval.Request{
		ProcessingID: c.String("id"),
		Query:        query,
		ModelName:    c.String("model"),
		TopK:         c.Int("top-k"),
		Metric:       c.String("metric"),
		Filter:       filter,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if c.Bool("json") {
		return printJSON(resp)
	}
	fmt.Printf("Found %d hits\n", resp.TotalResults)
	for _, hit := range resp.Results {
		fmt.Printf("%d: %s [%0.3f]\n", hit.Rank, hit.ChunkID, hit.SimilarityScore)
		fmt.Printf("   %s\n", truncate(hit.Document, 160))
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func runsCommand(c *cli.Context) error {
	ctx := context.Background()

	s, err := openService(c, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.Runs().ListRuns(ctx, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROCESSING ID\tCREATED\tSTATUS\tSTORE\tMODEL\tCHUNKS\tSOURCE")
	for _, r := range runs {
		chunks := "-"
		if r.Result != nil {
			chunks = fmt.Sprint(r.Result.Chunking.TotalChunks)
		}
		status := string(r.Status)
		if r.Stage != "" {
			status += " (" + r.Stage + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ProcessingID, r.CreatedAt.Local().Format(time.DateTime),
			status, r.StoreKind, r.Model, chunks, r.SourceFile)
	}
	return w.Flush()
}

func statsCommand(c *cli.Context) error {
	ctx := context.Background()

	s, err := openService(c, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.Stats(ctx, c.String("id"))
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	return printJSON(stats)
}

func cleanupCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if d := c.Duration("max-age"); d > 0 {
		cfg.Retention.MaxAge = d.String()
	}
	s, err := openService(c, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := s.Cleanup(ctx)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	fmt.Printf("Removed %d of %d runs created before %s\n", len(report.Removed), report.Examined,
		report.Cutoff.Local().Format(time.DateTime))
	for _, id := range report.Failed {
		fmt.Printf("  failed: %s\n", id)
	}

	if !c.Bool("watch") {
		return nil
	}
	started, err := s.StartRetention(ctx)
	if err != nil {
		return err
	}
	if !started {
		return fmt.Errorf("no retention schedule configured")
	}
	slog.Info("waiting for scheduled cleanups", "schedule", cfg.Retention.Schedule)
	<-ctx.Done()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
