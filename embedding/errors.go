package embedding

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when retry max attempts is not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be greater than 0")

	// ErrNilLoader is returned when a Batcher is created without a loader.
	ErrNilLoader = errors.New("model loader required")

	// ErrCountMismatch is returned when a model returns the wrong number of vectors.
	ErrCountMismatch = errors.New("embedding count mismatch")

	// ErrNonFinite is returned when a vector contains NaN or Inf.
	ErrNonFinite = errors.New("vector contains NaN or Inf")

	// ErrInconsistentDimension is returned when vectors of one result differ in length.
	ErrInconsistentDimension = errors.New("inconsistent vector dimension")
)
