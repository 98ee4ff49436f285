package preprocess

import (
	"strings"

	"github.com/poiesic/tabvec/core"
)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be but by for from has have he her his i if in into is it its
		me my no not of on or our she so such that the their them then there these they this to was we were what
		when where which who will with you your`) {
		stopwords[w] = struct{}{}
	}
}

// processText normalizes every text column in place.
func processText(t *core.Table, mode TextProcessing, removeStopwords bool) {
	if mode == TextSkip && !removeStopwords {
		return
	}
	for idx, col := range t.Columns {
		if col.Type != core.ColumnText {
			continue
		}
		for _, row := range t.Rows {
			s, ok := row[idx].(string)
			if !ok {
				continue
			}
			row[idx] = normalizeText(s, mode, removeStopwords)
		}
	}
}

func normalizeText(s string, mode TextProcessing, removeStopwords bool) string {
	switch mode {
	case TextLowercase:
		s = strings.ToLower(s)
	case TextNormalize:
		s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	if !removeStopwords {
		return s
	}
	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if _, stop := stopwords[strings.ToLower(strings.Trim(w, ".,;:!?\"'()"))]; stop {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}
