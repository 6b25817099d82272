package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/dentalking/geulpi-calendar-ai-sub003/contracts"
)

// HandleState is the lifecycle state of a completion handle. Pending is the
// only non-terminal state; every transition out of it is final.
type HandleState int

const (
	StatePending HandleState = iota
	StateCompleted
	StateFailed
	StateCancelled
)

func (s HandleState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CompletionHandle is the awaitable returned by Submit. It resolves exactly
// once; whichever of the response consumer, the submitter's rollback, the
// caller's cancel, or the sweeper gets there first wins, and every later
// attempt is a no-op.
type CompletionHandle struct {
	id          string
	submittedAt time.Time

	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	state    HandleState
	response contracts.Response
	err      error
}

func newHandle(id string) *CompletionHandle {
	return &CompletionHandle{
		id:          id,
		submittedAt: time.Now(),
		done:        make(chan struct{}),
		state:       StatePending,
	}
}

// resolve moves the handle to a terminal state. Returns false if it was
// already resolved.
func (h *CompletionHandle) resolve(state HandleState, resp contracts.Response, err error) bool {
	resolved := false
	h.once.Do(func() {
		h.mu.Lock()
		h.state = state
		h.response = resp
		h.err = err
		h.mu.Unlock()
		close(h.done)
		resolved = true
	})
	return resolved
}

func (h *CompletionHandle) complete(resp contracts.Response) bool {
	return h.resolve(StateCompleted, resp, nil)
}

func (h *CompletionHandle) fail(err error) bool {
	return h.resolve(StateFailed, nil, err)
}

func (h *CompletionHandle) cancel() bool {
	return h.resolve(StateCancelled, nil, ErrCancelled)
}

// ID returns the correlation id the handle is registered under.
func (h *CompletionHandle) ID() string {
	return h.id
}

// SubmittedAt returns when the request was submitted.
func (h *CompletionHandle) SubmittedAt() time.Time {
	return h.submittedAt
}

// Done returns a channel closed when the handle resolves.
func (h *CompletionHandle) Done() <-chan struct{} {
	return h.done
}

// State returns the current state.
func (h *CompletionHandle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Result returns the terminal outcome and whether the handle has resolved.
func (h *CompletionHandle) Result() (contracts.Response, error, bool) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.response, h.err, true
	default:
		return nil, nil, false
	}
}

// Await blocks until the handle resolves or ctx is done. A ctx error only
// abandons the wait; it does not resolve the handle or touch the registry.
func (h *CompletionHandle) Await(ctx context.Context) (contracts.Response, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.response, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
