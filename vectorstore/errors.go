package vectorstore

import "errors"

var (
	// ErrUnknownKind is returned for an unsupported backend kind.
	ErrUnknownKind = errors.New("unknown store kind")

	// ErrUnknownMetric is returned for an unsupported similarity metric.
	ErrUnknownMetric = errors.New("unknown similarity metric")

	// ErrClosed is returned when a closed store or manager is used.
	ErrClosed = errors.New("store closed")
)
