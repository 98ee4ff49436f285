package chunking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/tabvec/core"
)

const nullKeyLabel = "<null>"

// DocumentBased emits one chunk per distinct value of KeyColumn, in order of
// first appearance. Groups whose text exceeds TokenLimit are split into
// contiguous sub-chunks.
type DocumentBased struct {
	KeyColumn  string
	TokenLimit int
	NullKey    string
	tokens     TokenCounter
	logger     *slog.Logger
}

func newDocumentBased(p Params, tokens TokenCounter, logger *slog.Logger) (*DocumentBased, error) {
	if p.KeyColumn == "" {
		return nil, invalid(MethodDocumentBased, "key_column", "required")
	}
	limit, err := positiveOrDefault(MethodDocumentBased, "token_limit", p.TokenLimit, DefaultTokenLimit)
	if err != nil {
		return nil, err
	}
	nullKey := p.NullKey
	switch nullKey {
	case "":
		nullKey = NullKeyGroup
	case NullKeyGroup, NullKeySeparate:
	default:
		return nil, invalid(MethodDocumentBased, "null_key", fmt.Sprintf("unknown policy %q", nullKey))
	}
	return &DocumentBased{KeyColumn: p.KeyColumn, TokenLimit: limit, NullKey: nullKey, tokens: tokens, logger: logger}, nil
}

func (d *DocumentBased) Method() Method { return MethodDocumentBased }

func (d *DocumentBased) check(table *core.Table) error {
	if table.ColumnIndex(d.KeyColumn) < 0 {
		return invalid(MethodDocumentBased, "key_column", fmt.Sprintf("column %q not found", d.KeyColumn))
	}
	return nil
}

type keyGroup struct {
	label string
	rows  []int
}

func (d *DocumentBased) Chunk(ctx context.Context, table *core.Table) (*Result, error) {
	return run(ctx, d, table, func(ctx context.Context, b *builder) error {
		groups := d.group(table)
		for _, g := range groups {
			if err := ctx.Err(); err != nil {
				return err
			}
			d.emit(b, g)
		}
		d.logger.Debug("document chunking complete", "groups", len(groups), "chunks", len(b.chunks))
		return nil
	})
}

func (d *DocumentBased) group(table *core.Table) []*keyGroup {
	idx := table.ColumnIndex(d.KeyColumn)
	byKey := make(map[string]*keyGroup)
	var groups []*keyGroup
	for r, row := range table.Rows {
		v := row[idx]
		if core.IsNull(v) && d.NullKey == NullKeySeparate {
			groups = append(groups, &keyGroup{label: nullKeyLabel, rows: []int{r}})
			continue
		}
		key := fmt.Sprintf("%T:%s", v, core.FormatValue(v))
		label := core.FormatValue(v)
		if core.IsNull(v) {
			key, label = "\x00", nullKeyLabel
		}
		g, ok := byKey[key]
		if !ok {
			g = &keyGroup{label: label}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, r)
	}
	return groups
}

// emit writes a group as one chunk, or as sub-chunks when over the token limit.
func (d *DocumentBased) emit(b *builder, g *keyGroup) {
	total := d.tokens.Count(b.join(g.rows))
	if total <= d.TokenLimit || len(g.rows) == 1 {
		b.add(g.rows, len(g.rows), map[string]any{
			"key_column":  d.KeyColumn,
			"key_value":   g.label,
			"token_count": total,
			"token_limit": d.TokenLimit,
		})
		return
	}

	var parts [][]int
	var current []int
	used := 0
	for _, r := range g.rows {
		n := d.tokens.Count(b.texts[r])
		if len(current) > 0 && used+n > d.TokenLimit {
			parts = append(parts, current)
			current, used = nil, 0
		}
		current = append(current, r)
		used += n
	}
	if len(current) > 0 {
		parts = append(parts, current)
	}
	for i, rows := range parts {
		b.add(rows, len(rows), map[string]any{
			"key_column":  d.KeyColumn,
			"key_value":   g.label,
			"token_count": d.tokens.Count(b.join(rows)),
			"token_limit": d.TokenLimit,
			"sub_chunk":   i,
			"sub_chunks":  len(parts),
		})
	}
}
