package engine

import (
	"context"
	"time"

	"github.com/roach88/timelock/internal/ir"
)

// Authority answers capability checks for the host. The engine never
// caches answers; every gated operation asks again.
//
// Implemented by authz.Roles.
type Authority interface {
	HasCapability(ctx context.Context, caller string, capability ir.Capability) (bool, error)
}

// Batch is what the engine hands to the Executor.
type Batch struct {
	RequestID       uint64
	Actions         []ir.Action
	AllowFailureMap ir.Bitmap
}

// Outcome is what the Executor reports back.
// FailureMap bits must be a subset of the batch's AllowFailureMap.
type Outcome struct {
	Results    [][]byte
	FailureMap ir.Bitmap
}

// Executor performs the actions of a request.
//
// Returning an error fails the whole transition: the request stays pending
// and no event is recorded. ctx carries the open transition; passing it
// back to the engine makes reentrant calls join it.
//
// Implemented by dispatch.Registry.
type Executor interface {
	Execute(ctx context.Context, batch Batch) (Outcome, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, batch Batch) (Outcome, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, batch Batch) (Outcome, error) {
	return f(ctx, batch)
}

// Observer receives committed events in log order.
// Called synchronously after commit, outside the engine mutex.
type Observer interface {
	OnEvent(ev ir.Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev ir.Event)

// OnEvent calls f.
func (f ObserverFunc) OnEvent(ev ir.Event) {
	f(ev)
}

// Metrics is the instrumentation hook. Only committed transitions are
// reported, except OperationRejected which fires for every rejection.
//
// Implemented by metrics.Collector.
type Metrics interface {
	RequestCreated()
	RequestExecuted(fast bool)
	DelayChanged(delay time.Duration)
	OperationRejected(op string, code ErrorCode)
}

type noopMetrics struct{}

func (noopMetrics) RequestCreated() {}
func (noopMetrics) RequestExecuted(bool) {}
func (noopMetrics) DelayChanged(time.Duration) {}
func (noopMetrics) OperationRejected(string, ErrorCode) {}
