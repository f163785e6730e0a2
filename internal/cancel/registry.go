// Package cancel provides the in-process run cancellation registry.
//
// Tokens are per-process: a signal raised here does not reach agents running
// in another worker. Cross-process cancellation falls back to the executor
// polling the run's phase in the database and exiting when it reads
// cancelled.
package cancel

import (
	"context"
	"sync"
)

// Token wraps a cancellable context handed to agent executions.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the context aborted when the run is signalled.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Cancelled reports whether the token has been aborted.
func (t *Token) Cancelled() bool {
	return t.ctx.Err() != nil
}

type entry struct {
	token    *Token
	refCount int
}

// Registry tracks cancellation tokens per run with reference counting, so
// concurrent executions against the same run share one token.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register returns the run's token, creating one if absent. A token that was
// already signalled is returned as-is; callers must check Cancelled.
func (r *Registry) Register(runID string) *Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[runID]; ok {
		e.refCount++
		return e.token
	}

	ctx, cancelFn := context.WithCancel(context.Background())
	tok := &Token{ctx: ctx, cancel: cancelFn}
	r.entries[runID] = &entry{token: tok, refCount: 1}
	return tok
}

// Signal aborts the run's token. Returns false when no execution is
// registered for the run in this process.
func (r *Registry) Signal(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[runID]
	if !ok {
		return false
	}
	e.token.cancel()
	return true
}

// Unregister drops one reference; the entry is removed when the count
// reaches zero.
func (r *Registry) Unregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[runID]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		e.token.cancel()
		delete(r.entries, runID)
	}
}

// IsCancelled reports whether the run's token exists and has been aborted.
func (r *Registry) IsCancelled(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[runID]
	return ok && e.token.Cancelled()
}

// GetToken returns the run's token, or nil when none is registered.
func (r *Registry) GetToken(runID string) *Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[runID]; ok {
		return e.token
	}
	return nil
}
