package preprocess

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/poiesic/tabvec/core"
)

// ColumnInfo describes one column of the normalized table.
type ColumnInfo struct {
	Name         string          `json:"name"`
	InferredType core.ColumnType `json:"inferred_type"`
	Type         core.ColumnType `json:"type"`
	NullCount    int             `json:"null_count"`
	UniqueCount  int             `json:"unique_count"`
}

// FileMetadata describes the table before and after preprocessing.
type FileMetadata struct {
	ColumnCount       int                        `json:"column_count"`
	RowsIn            int                        `json:"rows_in"`
	RowCount          int                        `json:"row_count"`
	RowsDropped       int                        `json:"rows_dropped"`
	DuplicatesRemoved int                        `json:"duplicates_removed"`
	NullsFilled       int                        `json:"nulls_filled"`
	Columns           []ColumnInfo               `json:"columns"`
	Conversions       map[string]core.ColumnType `json:"conversions,omitempty"`
}

// Result is the output of a preprocessing run.
type Result struct {
	Table           *core.Table
	FileMetadata    FileMetadata
	NumericMetadata map[string]NumericStats
	Duration        time.Duration
}

// Option configures a Preprocessor.
type Option func(*Preprocessor)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Preprocessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Preprocessor normalizes tables. It holds no per-run state and is safe for concurrent use.
type Preprocessor struct {
	logger *slog.Logger
}

// New creates a Preprocessor.
func New(opts ...Option) *Preprocessor {
	p := &Preprocessor{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "preprocess")
	return p
}

// Preprocess runs a default Preprocessor over the table.
func Preprocess(ctx context.Context, table *core.Table, opts Options) (*Result, error) {
	return New().Run(ctx, table, opts)
}

// Run normalizes a copy of the table. The input table is not modified.
func (p *Preprocessor) Run(ctx context.Context, table *core.Table, opts Options) (*Result, error) {
	start := time.Now()
	if err := core.ValidateTable(table); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	for col := range opts.TypeConversions {
		if table.ColumnIndex(col) < 0 {
			return nil, core.NewValidationError("type_conversions", "unknown column %q", col)
		}
	}

	t := table.Clone()
	meta := FileMetadata{
		ColumnCount: t.NumColumns(),
		RowsIn:      t.NumRows(),
		Conversions: opts.TypeConversions,
	}

	inferred := inferTypes(t)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch opts.NullHandling {
	case NullDrop:
		meta.RowsDropped = dropNullRows(t)
	case NullFill:
		n, err := fillNulls(t, opts.FillStrategy, opts.FillValue)
		if err != nil {
			return nil, err
		}
		meta.NullsFilled = n
	}

	if opts.RemoveDuplicates {
		meta.DuplicatesRemoved = removeDuplicates(t)
	}

	if err := convertColumns(t, opts.TypeConversions); err != nil {
		p.logger.Error("type conversion failed", "err", err)
		return nil, err
	}

	processText(t, opts.TextProcessing, opts.RemoveStopwords)

	if t.NumRows() == 0 {
		return nil, core.NewValidationError("table", "no rows left after preprocessing")
	}

	meta.RowCount = t.NumRows()
	meta.Columns = describeColumns(t, inferred)
	numeric := make(map[string]NumericStats)
	for idx, col := range t.Columns {
		if !col.Type.IsNumeric() {
			continue
		}
		vals, nulls := numericValues(t, idx)
		numeric[col.Name] = computeStats(vals, nulls)
	}

	p.logger.Debug("preprocessed table",
		"rows_in", meta.RowsIn, "rows_out", meta.RowCount,
		"dropped", meta.RowsDropped, "duplicates", meta.DuplicatesRemoved)

	return &Result{
		Table:           t,
		FileMetadata:    meta,
		NumericMetadata: numeric,
		Duration:        time.Since(start),
	}, nil
}

// inferTypes sets each column's type and coerces its cells to that type.
func inferTypes(t *core.Table) []core.ColumnType {
	inferred := make([]core.ColumnType, len(t.Columns))
	col := make([]core.Value, len(t.Rows))
	for idx := range t.Columns {
		for i, row := range t.Rows {
			col[i] = row[idx]
		}
		typ := inferColumn(col)
		inferred[idx] = typ
		t.Columns[idx].Type = typ
		if typ == core.ColumnEmpty {
			continue
		}
		for _, row := range t.Rows {
			if core.IsNull(row[idx]) {
				row[idx] = nil
				continue
			}
			// Inference guarantees every non-null value parses.
			v, _ := parseAs(row[idx], typ)
			row[idx] = v
		}
	}
	return inferred
}

// removeDuplicates keeps the first occurrence of every distinct row.
func removeDuplicates(t *core.Table) int {
	seen := make(map[string]struct{}, len(t.Rows))
	kept := t.Rows[:0]
	removed := 0
	for _, row := range t.Rows {
		key := rowKey(row)
		if _, dup := seen[key]; dup {
			removed++
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, row)
	}
	t.Rows = kept
	return removed
}

func convertColumns(t *core.Table, conversions map[string]core.ColumnType) error {
	names := make([]string, 0, len(conversions))
	for name := range conversions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		target := conversions[name]
		idx := t.ColumnIndex(name)
		for _, row := range t.Rows {
			if core.IsNull(row[idx]) {
				continue
			}
			v, err := parseAs(row[idx], target)
			if err != nil {
				return &core.ConversionError{Column: name, Value: core.FormatValue(row[idx]), Target: target, Err: err}
			}
			row[idx] = v
		}
		t.Columns[idx].Type = target
	}
	return nil
}

func describeColumns(t *core.Table, inferred []core.ColumnType) []ColumnInfo {
	infos := make([]ColumnInfo, len(t.Columns))
	for idx, col := range t.Columns {
		unique := make(map[string]struct{})
		nulls := 0
		for _, row := range t.Rows {
			if core.IsNull(row[idx]) {
				nulls++
				continue
			}
			unique[cellKey(row[idx])] = struct{}{}
		}
		infos[idx] = ColumnInfo{
			Name:         col.Name,
			InferredType: inferred[idx],
			Type:         col.Type,
			NullCount:    nulls,
			UniqueCount:  len(unique),
		}
	}
	return infos
}

// cellKey renders a cell with its type so that "1" and 1 stay distinct.
func cellKey(v core.Value) string {
	if core.IsNull(v) {
		return "\x00"
	}
	return fmt.Sprintf("%T:%s", v, core.FormatValue(v))
}

func rowKey(row []core.Value) string {
	var b strings.Builder
	for i, v := range row {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(cellKey(v))
	}
	return b.String()
}
