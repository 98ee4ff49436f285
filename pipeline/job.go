package pipeline

import (
	"context"
	"sync"

	"github.com/poiesic/tabvec/core"
)

// Job is a submitted run.
type Job struct {
	id     string
	done   chan struct{}
	mu     sync.Mutex
	state  State
	result *core.ProcessingResult
	err    error
}

func newJob(id string) *Job {
	return &Job{id: id, state: StateReceived, done: make(chan struct{})}
}

// ID returns the run's processing id.
func (j *Job) ID() string {
	return j.id
}

// State returns the run's current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Done is closed when the run reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the run finishes or ctx is done. Giving up on the wait
// does not cancel the run.
func (j *Job) Wait(ctx context.Context) (*core.ProcessingResult, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *Job) finish(result *core.ProcessingResult, err error) {
	j.mu.Lock()
	j.result, j.err = result, err
	j.mu.Unlock()
	close(j.done)
}
