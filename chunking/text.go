package chunking

import (
	"strings"

	"github.com/poiesic/tabvec/core"
)

// RowText serializes one row as "name: value | name: value". Null cells are omitted.
func RowText(columns []core.Column, row []core.Value) string {
	var b strings.Builder
	for i, v := range row {
		if core.IsNull(v) {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(columns[i].Name)
		b.WriteString(": ")
		b.WriteString(core.FormatValue(v))
	}
	return b.String()
}

func rowTexts(t *core.Table) []string {
	texts := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		texts[i] = RowText(t.Columns, row)
	}
	return texts
}
