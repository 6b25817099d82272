package bridge

import (
	"sync"

	"github.com/dentalking/geulpi-calendar-ai-sub003/contracts"
)

// Registry tracks in-flight requests by correlation id. It is the only
// shared mutable state in the bridge; every mutating operation is atomic
// with respect to the others, so an id can be claimed by at most one of the
// completion, cancellation, and sweep paths.
//
// Registries are constructed per bridge, never shared process-wide, so tests
// get isolated instances.
type Registry struct {
	mu      sync.RWMutex
	pending map[string]*CompletionHandle
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string]*CompletionHandle),
	}
}

// Register adds a handle under its correlation id. A duplicate id is
// rejected with ErrDuplicateCorrelationID.
func (r *Registry) Register(handle *CompletionHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[handle.id]; exists {
		return ErrDuplicateCorrelationID
	}
	r.pending[handle.id] = handle
	return nil
}

// Complete atomically removes the entry for id and resolves its handle with
// the response. Returns false when no entry exists; this is the idempotence
// boundary for duplicate and orphan deliveries.
func (r *Registry) Complete(id string, resp contracts.Response) bool {
	r.mu.Lock()
	handle, exists := r.pending[id]
	if exists {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !exists {
		return false
	}
	handle.complete(resp)
	return true
}

// Remove unconditionally removes the entry for id and returns its handle,
// or nil if absent. Resolving the handle is the caller's job.
func (r *Registry) Remove(id string) *CompletionHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle, exists := r.pending[id]
	if !exists {
		return nil
	}
	delete(r.pending, id)
	return handle
}

// Sweep removes every entry matching the predicate and returns the removed
// handles. The predicate runs under the registry lock and must not block.
func (r *Registry) Sweep(predicate func(*CompletionHandle) bool) []*CompletionHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*CompletionHandle
	for id, handle := range r.pending {
		if predicate(handle) {
			delete(r.pending, id)
			removed = append(removed, handle)
		}
	}
	return removed
}

// Len returns the number of in-flight entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}
