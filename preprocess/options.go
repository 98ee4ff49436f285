package preprocess

import (
	"github.com/poiesic/tabvec/core"
)

// NullHandling selects what happens to rows with null cells.
type NullHandling string

const (
	NullDrop   NullHandling = "drop"
	NullFill   NullHandling = "fill"
	NullIgnore NullHandling = "ignore"
)

// FillStrategy selects the replacement value when NullHandling is fill.
type FillStrategy string

const (
	FillMean   FillStrategy = "mean"
	FillMedian FillStrategy = "median"
	FillMode   FillStrategy = "mode"
	FillCustom FillStrategy = "custom"
)

// TextProcessing selects the normalization applied to text columns.
type TextProcessing string

const (
	TextSkip      TextProcessing = "skip"
	TextLowercase TextProcessing = "lowercase"
	TextNormalize TextProcessing = "normalize"
)

// Options configures a preprocessing run.
type Options struct {
	NullHandling     NullHandling
	FillStrategy     FillStrategy
	FillValue        string
	RemoveDuplicates bool
	TypeConversions  map[string]core.ColumnType
	TextProcessing   TextProcessing
	RemoveStopwords  bool
}

// DefaultOptions returns options that keep nulls, remove duplicates and leave text alone.
func DefaultOptions() Options {
	return Options{
		NullHandling:     NullIgnore,
		FillStrategy:     FillMode,
		RemoveDuplicates: true,
		TextProcessing:   TextSkip,
	}
}

// Validate checks option values. Empty values fall back to the defaults.
func (o *Options) Validate() error {
	def := DefaultOptions()
	if o.NullHandling == "" {
		o.NullHandling = def.NullHandling
	}
	if o.FillStrategy == "" {
		o.FillStrategy = def.FillStrategy
	}
	if o.TextProcessing == "" {
		o.TextProcessing = def.TextProcessing
	}

	switch o.NullHandling {
	case NullDrop, NullFill, NullIgnore:
	default:
		return core.NewValidationError("null_handling", "unknown value %q", o.NullHandling)
	}
	switch o.FillStrategy {
	case FillMean, FillMedian, FillMode:
	case FillCustom:
		if o.NullHandling == NullFill && o.FillValue == "" {
			return core.NewValidationError("fill_value", "required for custom fill strategy")
		}
	default:
		return core.NewValidationError("fill_strategy", "unknown value %q", o.FillStrategy)
	}
	switch o.TextProcessing {
	case TextSkip, TextLowercase, TextNormalize:
	default:
		return core.NewValidationError("text_processing", "unknown value %q", o.TextProcessing)
	}
	for col, target := range o.TypeConversions {
		switch target {
		case core.ColumnText, core.ColumnNumeric, core.ColumnInteger, core.ColumnBoolean, core.ColumnDatetime:
		default:
			return core.NewValidationError("type_conversions", "column %q: unsupported target type %q", col, target)
		}
	}
	return nil
}
