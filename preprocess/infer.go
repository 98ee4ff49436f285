package preprocess

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/tabvec/core"
)

var errUnparseable = errors.New("unparseable value")

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.DateTime,
	"2006-01-02T15:04:05",
	time.DateOnly,
	"2006/01/02",
	"01/02/2006",
	"02-Jan-2006",
	"Jan 2, 2006",
}

// inferColumn picks the narrowest type every non-null value parses as.
func inferColumn(values []core.Value) core.ColumnType {
	candidates := []core.ColumnType{core.ColumnInteger, core.ColumnNumeric, core.ColumnBoolean, core.ColumnDatetime}
	seen := false
	for _, v := range values {
		if core.IsNull(v) {
			continue
		}
		seen = true
		kept := candidates[:0]
		for _, c := range candidates {
			if _, err := parseAs(v, c); err == nil {
				kept = append(kept, c)
			}
		}
		candidates = kept
		if len(candidates) == 0 {
			return core.ColumnText
		}
	}
	if !seen {
		return core.ColumnEmpty
	}
	return candidates[0]
}

// parseAs converts a cell to the Go representation of the target type.
func parseAs(v core.Value, target core.ColumnType) (core.Value, error) {
	if core.IsNull(v) {
		return nil, nil
	}
	switch target {
	case core.ColumnText:
		return core.FormatValue(v), nil
	case core.ColumnInteger:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case float64:
			if x == math.Trunc(x) && !math.IsInf(x, 0) {
				return int64(x), nil
			}
			return nil, errUnparseable
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, errUnparseable
			}
			return n, nil
		}
	case core.ColumnNumeric:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		case int:
			return float64(x), nil
		case string:
			s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
			f, err := strconv.ParseFloat(s, 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, errUnparseable
			}
			return f, nil
		}
	case core.ColumnBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(x)) {
			case "true", "yes", "y", "t":
				return true, nil
			case "false", "no", "n", "f":
				return false, nil
			}
		case int64:
			if x == 0 || x == 1 {
				return x == 1, nil
			}
		}
	case core.ColumnDatetime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			s := strings.TrimSpace(x)
			for _, layout := range dateLayouts {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts, nil
				}
			}
		}
	}
	return nil, errUnparseable
}
