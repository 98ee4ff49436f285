// Package tableio decodes delimited text files into core.Table values.
package tableio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/poiesic/tabvec/core"
)

// ErrEmptyInput is returned when the input has no header row.
var ErrEmptyInput = errors.New("input has no header row")

// Options configures CSV decoding.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune
	// KeepHeaders disables header normalization.
	KeepHeaders bool
}

// ReadCSVFile decodes the CSV file at path.
func ReadCSVFile(path string, opts Options) (*core.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f, opts)
}

// ReadCSV decodes CSV data. Every cell is kept as a string; empty cells become nil.
// Type inference is left to the preprocessor.
func ReadCSV(r io.Reader, opts Options) (*core.Table, error) {
	reader := csv.NewReader(r)
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, core.NewValidationError("input", "%v", ErrEmptyInput)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !opts.KeepHeaders {
		header = NormalizeHeaders(header)
	}

	table := core.NewTable(header...)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		line++
		if len(record) != len(header) {
			return nil, core.NewValidationError("rows", "line %d has %d fields, expected %d", line, len(record), len(header))
		}
		row := make([]core.Value, len(record))
		for i, cell := range record {
			if strings.TrimSpace(cell) == "" {
				continue
			}
			row[i] = cell
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// NormalizeHeaders lowercases and trims column names, replaces inner whitespace
// with underscores, names blank columns column_N and suffixes duplicates.
func NormalizeHeaders(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]int, len(names))
	for i, name := range names {
		n := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		n = strings.Join(strings.Fields(n), "_")
		if n == "" {
			n = fmt.Sprintf("column_%d", i)
		}
		if count, ok := seen[n]; ok {
			seen[n] = count + 1
			n = fmt.Sprintf("%s_%d", n, count+1)
		}
		seen[n] = 0
		out[i] = n
	}
	return out
}
