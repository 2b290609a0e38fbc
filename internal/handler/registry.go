// Package handler implements the Handler Registry (C5): a process-wide,
// immutable mapping from handler name to the function the Worker Runner
// invokes when it claims a job of that type. Registration happens once at
// startup; after Freeze the mapping is read-only and Lookup takes only a read
// lock, matching the "process-wide immutable mapping" contract in
// spec.md §4.5.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler executes a job's payload and returns a result value, or an error
// if the job should be retried (or dead-lettered, once attempts are
// exhausted — the Worker Runner decides which).
type Handler interface {
	Invoke(ctx context.Context, payload json.RawMessage) (result any, err error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Invoke calls f.
func (f HandlerFunc) Invoke(ctx context.Context, payload json.RawMessage) (any, error) {
	return f(ctx, payload)
}

// errAlreadyFrozen is returned by Register after Freeze has been called.
var errAlreadyFrozen = fmt.Errorf("handler: registry is frozen, cannot register")

// Registry is an immutable-after-Freeze handler-name → Handler mapping.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Handler
	frozen bool
}

// NewRegistry returns an empty, unfrozen Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Handler)}
}

// Register adds h under name. Panics-free; returns an error instead of
// panicking if called after Freeze, since startup wiring code should
// surface this as a configuration error rather than crash.
func (r *Registry) Register(name string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errAlreadyFrozen
	}

	r.byName[name] = h

	return nil
}

// Freeze closes the registry to further registration. Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frozen = true
}

// Lookup returns the handler registered under name, or ok=false if no
// handler is registered — the Worker Runner treats this as an
// unknown-handler-type condition and dead-letters the job directly
// (spec.md §4.5, §4.6 step 3).
func (r *Registry) Lookup(name string) (h Handler, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok = r.byName[name]

	return h, ok
}
