// Package dispatch is the external action executor: it routes each action
// of a batch to the handler registered for its target.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/timelock/internal/engine"
	"github.com/roach88/timelock/internal/ir"
)

// Handler performs one action and returns its raw result.
//
// ctx is the context of the running transition; a handler that calls back
// into the engine with it joins the transition.
type Handler func(ctx context.Context, action ir.Action) ([]byte, error)

// ErrUnknownTarget is the failure recorded for an action whose target has
// no handler.
var ErrUnknownTarget = errors.New("unknown target")

// ActionError aborts a batch: action Index failed and its failure bit was
// not allowed.
type ActionError struct {
	Index  int
	Target string
	Err    error
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf("action %d (%s): %v", e.Index, e.Target, e.Err)
}

// Unwrap returns the handler error.
func (e *ActionError) Unwrap() error {
	return e.Err
}

// Registry maps targets to handlers. Implements engine.Executor.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{handlers: make(map[string]Handler), log: log}
}

// Register installs h for target, replacing any previous handler.
func (r *Registry) Register(target string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[target] = h
}

// Targets returns the registered targets, sorted.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	targets := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

func (r *Registry) handler(target string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[target]
	return h, ok
}

// Execute runs the batch in order.
//
// A failed action whose bit is set in AllowFailureMap is recorded in the
// returned failure map and execution continues. Any other failure stops
// the batch with an *ActionError. Context cancellation between actions
// stops the batch as well.
func (r *Registry) Execute(ctx context.Context, batch engine.Batch) (engine.Outcome, error) {
	out := engine.Outcome{Results: make([][]byte, len(batch.Actions))}

	for i, action := range batch.Actions {
		if err := ctx.Err(); err != nil {
			return engine.Outcome{}, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := r.run(ctx, action)
		if err != nil {
			if !batch.AllowFailureMap.Has(i) {
				return engine.Outcome{}, &ActionError{Index: i, Target: action.Target, Err: err}
			}
			r.log.Debug("allowed action failure",
				"request_id", batch.RequestID,
				"index", i,
				"target", action.Target,
				"error", err,
			)
			out.FailureMap = out.FailureMap.Set(i)
			continue
		}
		out.Results[i] = result
	}

	return out, nil
}

// run calls the handler, turning a panic into a failure.
func (r *Registry) run(ctx context.Context, action ir.Action) (result []byte, err error) {
	h, ok := r.handler(action.Target)
	if !ok {
		return nil, ErrUnknownTarget
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, action)
}
