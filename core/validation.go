package core

import "math"

// ValidateTable checks that a table is usable as pipeline input.
//
// Validation rules:
//   - at least one column and one row
//   - column names are non-empty and unique
//   - every row has one value per column
func ValidateTable(t *Table) error {
	if t == nil {
		return NewValidationError("table", "table is nil")
	}
	if len(t.Columns) == 0 {
		return NewValidationError("table", "table has no columns")
	}
	if len(t.Rows) == 0 {
		return NewValidationError("table", "table has no rows")
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return NewValidationError("columns", "empty column name")
		}
		if _, ok := seen[c.Name]; ok {
			return NewValidationError("columns", "duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return NewValidationError("rows", "row %d has %d values, expected %d", i, len(row), len(t.Columns))
		}
	}
	return nil
}

// ValidateChunks checks that chunk identifiers are unique and non-empty.
func ValidateChunks(chunks []Chunk) error {
	seen := make(map[string]struct{}, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			return NewValidationError("chunks", "chunk %d has no id", i)
		}
		if _, ok := seen[c.ID]; ok {
			return NewValidationError("chunks", "duplicate chunk id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

// IsFiniteVector reports whether every component is neither NaN nor infinite.
func IsFiniteVector(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// IsZeroVector reports whether every component is exactly zero.
func IsZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
