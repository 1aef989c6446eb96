package engine

import (
	"context"
	"sync"
)

// taskSet counts the outstanding asynchronous work (rule executions and lazy
// loads) registered against one object. WaitForTasks drains these sets across
// a subtree before callers trust validity or busy state.
type taskSet struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
	err  error
}

func (t *taskSet) begin() {
	t.mu.Lock()
	t.n++
	if t.n == 1 {
		t.idle = make(chan struct{})
	}
	t.mu.Unlock()
}

// done records completion of one unit. The first non-nil error is retained
// until takeErr collects it.
func (t *taskSet) done(err error) {
	t.mu.Lock()
	if err != nil && t.err == nil {
		t.err = err
	}
	t.n--
	if t.n == 0 {
		close(t.idle)
		t.idle = nil
	}
	t.mu.Unlock()
}

// wait blocks until the set is idle or ctx is done.
func (t *taskSet) wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.n == 0 {
			t.mu.Unlock()
			return nil
		}
		ch := t.idle
		t.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *taskSet) idleNow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n == 0
}

// takeErr returns and clears the first recorded asynchronous failure.
func (t *taskSet) takeErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.err
	t.err = nil
	return err
}
