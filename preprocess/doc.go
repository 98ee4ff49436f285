// Package preprocess normalizes raw tables before chunking.
//
// A run applies, in fixed order: per-column type inference, null handling,
// duplicate removal, explicit type conversions and text processing. Later steps
// always see the output of earlier ones, so duplicate removal compares rows
// after nulls were dropped or filled.
//
// A conversion that cannot parse a value fails the run with a
// core.ConversionError naming the column and the offending value. Values are
// never silently coerced to null.
package preprocess
