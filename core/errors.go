// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every typed error below matches exactly one of these with errors.Is.
var (
	// ErrValidation indicates bad input shape or type. The run is not started.
	ErrValidation = errors.New("validation error")

	// ErrConversion indicates a preprocessing type coercion failed.
	ErrConversion = errors.New("conversion error")

	// ErrInvalidParameter indicates invalid chunking parameters.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrChunking indicates a chunking strategy failed while running.
	ErrChunking = errors.New("chunking error")

	// ErrEmbedding indicates a model load or batch encoding failure.
	ErrEmbedding = errors.New("embedding error")

	// ErrStorage indicates a persistence failure.
	ErrStorage = errors.New("storage error")

	// ErrCollectionNotFound indicates a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch indicates a vector has the wrong dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// ValidationError reports bad input.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError with a formatted reason.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConversionError reports a value that could not be converted to the target column type.
type ConversionError struct {
	Column string
	Value  string
	Target ColumnType
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion error: column %q: cannot convert %q to %s", e.Column, e.Value, e.Target)
}

func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

func (e *ConversionError) Unwrap() error { return e.Err }

// InvalidParameterError reports a bad or missing chunking parameter.
type InvalidParameterError struct {
	Method string
	Param  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("invalid parameter: %s: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("invalid parameter: %s.%s: %s", e.Method, e.Param, e.Reason)
}

func (e *InvalidParameterError) Is(target error) bool { return target == ErrInvalidParameter }

// ChunkingError reports a failure while a strategy was running.
type ChunkingError struct {
	Method string
	Err    error
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunking error: %s: %v", e.Method, e.Err)
}

func (e *ChunkingError) Is(target error) bool { return target == ErrChunking }

func (e *ChunkingError) Unwrap() error { return e.Err }

// EmbeddingError reports a model load or encoding failure.
// Batch is the failing batch index, or -1 when no batch was involved.
type EmbeddingError struct {
	Model string
	Batch int
	Err   error
}

func (e *EmbeddingError) Error() string {
	if e.Batch < 0 {
		return fmt.Sprintf("embedding error: model %q: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("embedding error: model %q batch %d: %v", e.Model, e.Batch, e.Err)
}

func (e *EmbeddingError) Is(target error) bool { return target == ErrEmbedding }

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StorageError reports a vector store failure.
type StorageError struct {
	Collection string
	Op         string
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func (e *StorageError) Unwrap() error { return e.Err }

// CollectionNotFoundError reports a search against a collection that does not exist.
type CollectionNotFoundError struct {
	Collection string
}

func (e *CollectionNotFoundError) Error() string {
	return fmt.Sprintf("collection not found: %s", e.Collection)
}

func (e *CollectionNotFoundError) Is(target error) bool { return target == ErrCollectionNotFound }

// DimensionMismatchError reports a vector whose length differs from the collection's.
type DimensionMismatchError struct {
	Collection string
	Expected   int
	Actual     int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: %s expects %d, got %d", e.Collection, e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }
