package dispatch

import (
	"context"
	"errors"

	"github.com/roach88/timelock/internal/ir"
)

// Built-in targets available to the CLI and the HTTP server.
const (
	TargetEcho = "echo"
	TargetFail = "fail"
	TargetNoop = "noop"
)

// ErrActionFailed is returned by the fail target.
var ErrActionFailed = errors.New("action failed")

// RegisterBuiltins installs the echo, fail and noop targets.
//
//   - echo returns the action data
//   - fail always fails
//   - noop returns no data
func RegisterBuiltins(r *Registry) {
	r.Register(TargetEcho, func(_ context.Context, a ir.Action) ([]byte, error) {
		return a.Data, nil
	})
	r.Register(TargetFail, func(context.Context, ir.Action) ([]byte, error) {
		return nil, ErrActionFailed
	})
	r.Register(TargetNoop, func(context.Context, ir.Action) ([]byte, error) {
		return nil, nil
	})
}
