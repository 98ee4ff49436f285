package preprocess

import (
	"math"

	"github.com/poiesic/tabvec/core"
)

// dropNullRows removes every row holding at least one null cell.
func dropNullRows(t *core.Table) int {
	kept := t.Rows[:0]
	dropped := 0
	for _, row := range t.Rows {
		if rowHasNull(row) {
			dropped++
			continue
		}
		kept = append(kept, row)
	}
	t.Rows = kept
	return dropped
}

func rowHasNull(row []core.Value) bool {
	for _, v := range row {
		if core.IsNull(v) {
			return true
		}
	}
	return false
}

// fillNulls replaces null cells column by column. Columns that are entirely
// null are left untouched unless a custom value is supplied.
func fillNulls(t *core.Table, strategy FillStrategy, custom string) (int, error) {
	filled := 0
	for idx, col := range t.Columns {
		fill, ok, err := fillValue(t, idx, col, strategy, custom)
		if err != nil {
			return filled, err
		}
		if !ok {
			continue
		}
		for _, row := range t.Rows {
			if core.IsNull(row[idx]) {
				row[idx] = fill
				filled++
			}
		}
		if col.Type == core.ColumnEmpty {
			t.Columns[idx].Type = core.ColumnText
		}
	}
	return filled, nil
}

func fillValue(t *core.Table, idx int, col core.Column, strategy FillStrategy, custom string) (core.Value, bool, error) {
	switch strategy {
	case FillCustom:
		target := col.Type
		if target == core.ColumnEmpty {
			target = core.ColumnText
		}
		v, err := parseAs(custom, target)
		if err != nil {
			return nil, false, &core.ConversionError{Column: col.Name, Value: custom, Target: target, Err: err}
		}
		return v, true, nil
	case FillMean, FillMedian:
		if col.Type.IsNumeric() {
			vals, _ := numericValues(t, idx)
			if len(vals) == 0 {
				return nil, false, nil
			}
			var f float64
			if strategy == FillMean {
				f = mean(vals)
			} else {
				f = median(vals)
			}
			if col.Type == core.ColumnInteger {
				return int64(math.Round(f)), true, nil
			}
			return f, true, nil
		}
	}
	return modeValue(t, idx)
}

// modeValue returns the most frequent non-null value; ties go to the value seen first.
func modeValue(t *core.Table, idx int) (core.Value, bool, error) {
	counts := make(map[string]int)
	first := make(map[string]core.Value)
	var order []string
	for _, row := range t.Rows {
		v := row[idx]
		if core.IsNull(v) {
			continue
		}
		key := cellKey(v)
		if _, ok := counts[key]; !ok {
			order = append(order, key)
			first[key] = v
		}
		counts[key]++
	}
	if len(order) == 0 {
		return nil, false, nil
	}
	best := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[best] {
			best = key
		}
	}
	return first[best], true, nil
}
