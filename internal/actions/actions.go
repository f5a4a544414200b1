// Package actions implements the Action Dispatcher (C5): a closed,
// name-keyed map of side-effect handlers invoked with a plugin's emitted
// action{name, payload}. Dispatch failures are logged, never propagated to
// the task that emitted them.
package actions

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/octahive/octabot/internal/enginerr"
)

var errUnregistered = errors.New("no handler registered for this action name")

// Handler performs one named side effect given its JSON payload.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Dispatcher holds the closed set of registered action handlers.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher builds a Dispatcher from an explicit name -> Handler map,
// assembled once at engine construction time.
func NewDispatcher(handlers map[string]Handler) *Dispatcher {
	return &Dispatcher{handlers: handlers}
}

// Dispatch looks up name and runs it with payload. An unregistered name is
// an ActionFailure, not fatal to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, payload json.RawMessage) error {
	h, ok := d.handlers[name]
	if !ok {
		return enginerr.ActionFailure(name, errUnregistered)
	}
	if err := h(ctx, payload); err != nil {
		return enginerr.ActionFailure(name, err)
	}
	return nil
}
