package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrBatcherRequired is returned when an embedding batcher is not provided.
	ErrBatcherRequired = errors.New("embedding batcher required")

	// ErrStoresRequired is returned when a vector store manager is not provided.
	ErrStoresRequired = errors.New("vector store manager required")

	// ErrIllegalTransition is returned for a state change the state machine forbids.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrReleased is returned when submitting to a released pipeline.
	ErrReleased = errors.New("pipeline released")
)

// StageError annotates a run failure with the stage it occurred in.
type StageError struct {
	Stage        State
	ProcessingID string
	Err          error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("run %s failed in %s: %v", e.ProcessingID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
