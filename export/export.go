// Package export writes the download files of a completed run under
// {root}/downloads/{processing_id}/.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/poiesic/tabvec/chunking"
	"github.com/poiesic/tabvec/core"
	"github.com/poiesic/tabvec/preprocess"
)

// File names written for every run.
const (
	ChunksFile     = "chunks.csv"
	EmbeddingsFile = "embeddings.json"
	MetadataFile   = "metadata.json"
	SummaryFile    = "summary.json"
)

// Files lists the download files in the order they are written.
var Files = []string{ChunksFile, EmbeddingsFile, MetadataFile, SummaryFile}

// ErrInvalidID is returned for a processing id that is not a plain name.
var ErrInvalidID = errors.New("invalid processing id")

// Bundle is what a completed run exports.
type Bundle struct {
	Result          *core.ProcessingResult
	Chunks          []core.EmbeddedChunk
	FileMetadata    preprocess.FileMetadata
	NumericMetadata map[string]preprocess.NumericStats
	ChunkMetadata   []chunking.ChunkMetadata
}

type embeddingRecord struct {
	ChunkID   string    `json:"chunk_id"`
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
	Vector    []float32 `json:"vector"`
}

type metadataDocument struct {
	ProcessingID    string                             `json:"processing_id"`
	SourceFile      string                             `json:"source_file"`
	FileMetadata    preprocess.FileMetadata            `json:"file_metadata"`
	NumericMetadata map[string]preprocess.NumericStats `json:"numeric_metadata,omitempty"`
	Chunks          []chunking.ChunkMetadata           `json:"chunk_metadata"`
}

// Dir returns the download directory of a run.
func Dir(root, processingID string) (string, error) {
	if processingID == "" || processingID != filepath.Base(processingID) || strings.HasPrefix(processingID, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, processingID)
	}
	return filepath.Join(root, "downloads", processingID), nil
}

// Write writes every download file and returns their paths in Files order.
// A partially written directory is removed on failure.
func Write(root string, b *Bundle) (paths []string, err error) {
	if b == nil || b.Result == nil {
		return nil, core.NewValidationError("export", "bundle has no result")
	}
	dir, err := Dir(root, b.Result.ProcessingID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()

	writers := []func(string) error{
		func(p string) error { return writeChunks(p, b.Chunks) },
		func(p string) error { return writeEmbeddings(p, b.Chunks) },
		func(p string) error {
			return writeJSON(p, metadataDocument{
				ProcessingID:    b.Result.ProcessingID,
				SourceFile:      b.Result.SourceFile,
				FileMetadata:    b.FileMetadata,
				NumericMetadata: b.NumericMetadata,
				Chunks:          b.ChunkMetadata,
			})
		},
		func(p string) error { return writeJSON(p, b.Result) },
	}
	for i, name := range Files {
		p := filepath.Join(dir, name)
		if err := writers[i](p); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// Remove deletes the download directory of a run. A missing directory is
// not an error.
func Remove(root, processingID string) error {
	dir, err := Dir(root, processingID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// ReadSummary loads the summary written for a run.
func ReadSummary(root, processingID string) (*core.ProcessingResult, error) {
	dir, err := Dir(root, processingID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	if err != nil {
		return nil, err
	}
	var res core.ProcessingResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func writeChunks(path string, chunks []core.EmbeddedChunk) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Write([]string{"chunk_id", "method", "size", "source_rows", "text"})
	for _, c := range chunks {
		rows := make([]string, len(c.SourceRows))
		for i, r := range c.SourceRows {
			rows[i] = strconv.Itoa(r)
		}
		w.Write([]string{c.ID, c.Method, strconv.Itoa(c.Size), strings.Join(rows, ";"), c.Text})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeEmbeddings(path string, chunks []core.EmbeddedChunk) error {
	records := make([]embeddingRecord, len(chunks))
	for i, c := range chunks {
		records[i] = embeddingRecord{ChunkID: c.ID, Model: c.Model, Dimension: c.Dimension, Vector: c.Vector}
	}
	return writeJSON(path, records)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
