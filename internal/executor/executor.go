// Package executor declares the contract a concrete tool handler must
// satisfy (spec.md §4.4 "Extensibility"): a handler function conforming
// to (params) -> Result, registered under a catalog entry's name. The
// Engine requires no other change to add a new Executor.
package executor

import "context"

// Result is the JSON-serializable payload an Executor returns on success.
type Result struct {
	Payload any
}

// Handler executes one tool call's parameters and returns a Result or an
// error from the apierr taxonomy (unreachable, api_error, timeout, ...).
type Handler func(ctx context.Context, params map[string]any) (Result, error)

// Registry maps tool name to Handler. A new Executor registers by adding
// an entry here plus a catalog.ToolSpec of the same name.
type Registry map[string]Handler

// Register adds a handler under name, overwriting any existing entry.
func (r Registry) Register(name string, h Handler) {
	r[name] = h
}

// Lookup resolves a handler by tool name.
func (r Registry) Lookup(name string) (Handler, bool) {
	h, ok := r[name]
	return h, ok
}
