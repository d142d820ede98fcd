package download

import (
	"context"
	"sync"
)

// Registry tracks the cancel function for each in-flight download so cancel
// requests can kill the external process.
type Registry struct {
	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]context.CancelFunc)}
}

// Track registers a cancel function for an item and returns a release
// function the caller must invoke when the download finishes.
func (r *Registry) Track(itemID string, cancel context.CancelFunc) (release func()) {
	r.mu.Lock()
	r.active[itemID] = cancel
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.active, itemID)
		r.mu.Unlock()
	}
}

// Cancel stops the download for an item. It reports whether a download was
// actually in flight.
func (r *Registry) Cancel(itemID string) bool {
	r.mu.Lock()
	cancel, ok := r.active[itemID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active returns the number of in-flight downloads.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
