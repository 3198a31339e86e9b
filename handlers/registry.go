// Package handlers is the Handler Registry: a compile-time map from task
// title to executable unit, favoring a typed-language compile-time registry
// over the source's runtime file loading. Grounded on
// original_source/worker/tasks.py's HANDLERS dict.
package handlers

import (
	"context"
	"encoding/json"
)

// Handler executes a task's payload and returns a result or an error. There
// is no separate synchronous/asynchronous handler kind in Go — every handler
// is already just a function call; the timeout/uniformity contract is
// supplied by worker.Runtime wrapping the call in a context deadline, not by
// the handler signature.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Registry resolves a task title to a Handler. Resolution failure (unknown
// title) is reported by Resolve's second return value, which callers must
// treat as a task-level error, never as a process failure.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty registry; call Register to populate it.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for title.
func (r *Registry) Register(title string, h Handler) {
	r.handlers[title] = h
}

// Resolve looks up the handler for title. ok is false if no handler is
// registered — an unknown title, which the caller converts into a
// retryable task failure.
func (r *Registry) Resolve(title string) (h Handler, ok bool) {
	h, ok = r.handlers[title]
	return h, ok
}
