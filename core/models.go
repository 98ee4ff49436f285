package core

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// ID is a content-derived identifier.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// Identical content always produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// NewProcessingID returns a random 128-bit processing identifier.
func NewProcessingID() string {
	return uuid.NewString()
}

// CollectionName returns the collection name for a processing run.
func CollectionName(processingID string) string {
	return "collection_" + processingID
}

// ColumnType is the semantic type of a table column.
type ColumnType string

const (
	ColumnText     ColumnType = "text"
	ColumnNumeric  ColumnType = "numeric"
	ColumnInteger  ColumnType = "integer"
	ColumnBoolean  ColumnType = "boolean"
	ColumnDatetime ColumnType = "datetime"
	// ColumnEmpty marks a column whose values are all null.
	ColumnEmpty ColumnType = "empty"
)

// ParseColumnType parses a user supplied column type name.
// "float" and "number" are accepted as aliases for numeric, "int" for integer,
// "bool" for boolean, "date" for datetime and "string" for text.
func ParseColumnType(name string) (ColumnType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "numeric", "number", "float":
		return ColumnNumeric, nil
	case "integer", "int":
		return ColumnInteger, nil
	case "boolean", "bool":
		return ColumnBoolean, nil
	case "datetime", "date", "timestamp":
		return ColumnDatetime, nil
	case "text", "string", "str":
		return ColumnText, nil
	}
	return "", fmt.Errorf("unknown column type %q", name)
}

// IsNumeric reports whether the type holds numbers.
func (t ColumnType) IsNumeric() bool {
	return t == ColumnNumeric || t == ColumnInteger
}

// Column describes one table column.
type Column struct {
	Name string
	Type ColumnType
}

// Value is a single table cell. It holds nil, string, float64, int64, bool or time.Time.
type Value = any

// Table is an in-memory tabular dataset. A row's index is its position in Rows.
type Table struct {
	Columns []Column
	Rows    [][]Value
}

// NewTable creates an empty table with text columns of the given names.
func NewTable(names ...string) *Table {
	cols := make([]Column, len(names))
	for i, name := range names {
		cols[i] = Column{Name: name, Type: ColumnText}
	}
	return &Table{Columns: cols}
}

// AppendRow adds a row. The number of values must match the column count.
func (t *Table) AppendRow(values ...Value) error {
	if len(values) != len(t.Columns) {
		return NewValidationError("row", "expected %d values, got %d", len(t.Columns), len(values))
	}
	t.Rows = append(t.Rows, values)
	return nil
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	return len(t.Rows)
}

// NumColumns returns the number of columns.
func (t *Table) NumColumns() int {
	return len(t.Columns)
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the table structure. Cell values are immutable and shared.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: append([]Column(nil), t.Columns...),
		Rows:    make([][]Value, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = append([]Value(nil), row...)
	}
	return out
}

// IsNull reports whether a cell holds no value.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// FormatValue renders a cell as text. Null cells render as the empty string.
func FormatValue(v Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// Chunk is a unit of text derived from one or more table rows.
type Chunk struct {
	// ID is formatted as {method}_chunk_{index:04d}.
	ID         string
	Text       string
	SourceRows []int
	Method     string
	// Size is a row count, or a character count for recursive chunks.
	Size  int
	Extra map[string]any
}

// EmbeddedChunk is a chunk with its embedding vector.
type EmbeddedChunk struct {
	Chunk
	Vector      []float32
	Model       string
	Dimension   int
	GeneratedAt time.Time
}
