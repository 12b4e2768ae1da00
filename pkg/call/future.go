package call

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the lifecycle state of a Future.
type State int32

const (
	StatePending State = iota
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateCompleted:
		return "COMPLETED"
	case StateCancelled:
		return "CANCELLED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Future is the handle of an asynchronous invocation. It moves from PENDING
// to exactly one of COMPLETED, CANCELLED or FAILED.
type Future struct {
	mu        sync.Mutex
	state     State
	running   bool
	result    *Result
	err       error
	interrupt context.CancelFunc
	done      chan struct{}
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// begin marks the task as running. It returns false when the future was
// cancelled before the task started.
func (f *Future) begin(interrupt context.CancelFunc) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StatePending {
		return false
	}
	f.running = true
	f.interrupt = interrupt
	return true
}

// complete publishes res. It returns false when the future already reached
// a terminal state, in which case res is discarded.
func (f *Future) complete(res *Result) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StatePending {
		return false
	}
	f.result = res
	if res.OK() {
		f.state = StateCompleted
	} else {
		f.state = StateFailed
		f.err = res.Err()
	}
	f.interrupt = nil
	close(f.done)
	return true
}

// Cancel moves a pending future to CANCELLED and reports whether it did.
// A task that has not started will not run. When interrupt is true the
// context of a running task is cancelled as well; otherwise the task runs
// to completion and its result is discarded.
func (f *Future) Cancel(interrupt bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StatePending {
		return false
	}
	f.state = StateCancelled
	f.err = ErrCancelled
	close(f.done)
	if interrupt && f.running && f.interrupt != nil {
		f.interrupt()
	}
	f.interrupt = nil
	return true
}

// State returns the current state.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Future) IsCancelled() bool { return f.State() == StateCancelled }

// IsDone reports whether the future reached a terminal state.
func (f *Future) IsDone() bool { return f.State() != StatePending }

// Done is closed when the future reaches a terminal state.
func (f *Future) Done() <-chan struct{} { return f.done }

// Get blocks until the future is terminal. A failed invocation returns its
// result together with the typed error; a cancelled one returns ErrCancelled.
func (f *Future) Get() (*Result, error) {
	<-f.done
	return f.outcome()
}

// GetTimeout is Get bounded by d. On expiry it returns ErrTimeout and the
// future stays PENDING.
func (f *Future) GetTimeout(d time.Duration) (*Result, error) {
	if d <= 0 {
		select {
		case <-f.done:
			return f.outcome()
		default:
			return nil, ErrTimeout
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.outcome()
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Wait is Get bounded by ctx. A ctx deadline yields ErrTimeout, any other
// ctx cancellation yields ctx.Err().
func (f *Future) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		return f.outcome()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

func (f *Future) outcome() (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateCancelled:
		return nil, ErrCancelled
	case StateFailed:
		return f.result, f.err
	default:
		return f.result, nil
	}
}
