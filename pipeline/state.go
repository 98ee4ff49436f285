package pipeline

import (
	"fmt"
	"time"
)

// State is a run state.
type State string

const (
	StateReceived      State = "received"
	StatePreprocessing State = "preprocessing"
	StateChunking      State = "chunking"
	StateEmbedding     State = "embedding"
	StateStoring       State = "storing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

var next = map[State]State{
	StateReceived:      StatePreprocessing,
	StatePreprocessing: StateChunking,
	StateChunking:      StateEmbedding,
	StateEmbedding:     StateStoring,
	StateStoring:       StateCompleted,
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether s may move to to.
func (s State) CanTransition(to State) bool {
	if s.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return next[s] == to
}

// checkTransition returns ErrIllegalTransition when s may not move to to.
func checkTransition(from, to State) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// Event describes one state change of a run.
type Event struct {
	ProcessingID string
	From         State
	To           State
	At           time.Time
	// Err is set when To is StateFailed.
	Err error
}

// Observer receives state changes. Observers run synchronously on the run's
// worker and must not block.
type Observer func(Event)
