package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/timelock/internal/ir"
	"github.com/roach88/timelock/internal/store"
)

// Engine is the timelock registry.
//
// Thread-safety model:
//   - mutating operations: safe from any goroutine; outermost transitions
//     are serialized by mu
//   - reentrant operations: only with the context handed to the Executor,
//     on the executor's goroutine
//   - reads: safe from any goroutine; they see committed state, or the open
//     transition's state when called with its context
type Engine struct {
	mu sync.Mutex

	store     *store.Store
	authority Authority
	executor  Executor

	clock     Clock
	flowGen   FlowTokenGenerator
	observers []Observer
	metrics   Metrics
	log       *slog.Logger
	maxDepth  int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock sets the wall clock. Default: SystemClock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithFlowTokens sets the flow token generator. Default: UUIDv7Generator.
func WithFlowTokens(gen FlowTokenGenerator) EngineOption {
	return func(e *Engine) {
		e.flowGen = gen
	}
}

// WithObserver registers an observer for committed events.
// May be passed more than once; observers are called in registration order.
func WithObserver(obs Observer) EngineOption {
	return func(e *Engine) {
		e.observers = append(e.observers, obs)
	}
}

// WithMetrics sets the instrumentation hook.
func WithMetrics(m Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// New creates an Engine over an open store.
//
// authority is the host authorization context consulted by every gated
// operation; a nil authority denies everything. executor performs the
// actions of executed requests; a nil executor accepts every batch and
// returns no results.
func New(s *store.Store, authority Authority, executor Executor, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     s,
		authority: authority,
		executor:  executor,
		clock:     SystemClock{},
		flowGen:   UUIDv7Generator{},
		metrics:   noopMetrics{},
		log:       slog.Default(),
		maxDepth:  DefaultMaxDepth,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.authority == nil {
		e.authority = denyAll{}
	}
	if e.executor == nil {
		e.executor = ExecutorFunc(func(context.Context, Batch) (Outcome, error) {
			return Outcome{}, nil
		})
	}

	return e
}

type denyAll struct{}

func (denyAll) HasCapability(context.Context, string, ir.Capability) (bool, error) {
	return false, nil
}

// MaxDelay returns the largest delay SetDelay and Initialize accept.
func (e *Engine) MaxDelay() time.Duration {
	return ir.MaxDelay
}

// Initialized reports whether Initialize has committed.
func (e *Engine) Initialized(ctx context.Context) (bool, error) {
	return e.reader(ctx).Initialized(ctx)
}

// Delay returns the current delay.
func (e *Engine) Delay(ctx context.Context) (time.Duration, error) {
	d, err := e.reader(ctx).Delay(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return 0, errNotInitialized()
	}
	return d, err
}

// Request returns a request by id.
func (e *Engine) Request(ctx context.Context, id uint64) (ir.Request, error) {
	return loadRequest(ctx, e.reader(ctx), id)
}

// Requests lists requests in id order after afterID (-1 for all).
// limit <= 0 means no limit.
func (e *Engine) Requests(ctx context.Context, afterID int64, limit int) ([]ir.Request, error) {
	return e.reader(ctx).Requests(ctx, afterID, limit)
}

// Events lists committed events with seq > afterSeq.
// limit <= 0 means no limit.
func (e *Engine) Events(ctx context.Context, afterSeq int64, limit int) ([]ir.Event, error) {
	return e.reader(ctx).Events(ctx, afterSeq, limit)
}

// RequestEvents lists the events that refer to one request.
func (e *Engine) RequestEvents(ctx context.Context, id uint64) ([]ir.Event, error) {
	r := e.reader(ctx)
	if _, err := loadRequest(ctx, r, id); err != nil {
		return nil, err
	}
	return r.RequestEvents(ctx, id)
}

// stateReader is the read API shared by *store.Store and *store.Tx.
type stateReader interface {
	Initialized(ctx context.Context) (bool, error)
	Delay(ctx context.Context) (time.Duration, error)
	Request(ctx context.Context, id uint64) (ir.Request, error)
	Requests(ctx context.Context, afterID int64, limit int) ([]ir.Request, error)
	Events(ctx context.Context, afterSeq int64, limit int) ([]ir.Event, error)
	RequestEvents(ctx context.Context, id uint64) ([]ir.Event, error)
}

// reader returns the open transition's view when ctx carries one.
func (e *Engine) reader(ctx context.Context) stateReader {
	if f := e.frameFrom(ctx); f != nil {
		return f.tx
	}
	return e.store
}

func loadRequest(ctx context.Context, r stateReader, id uint64) (ir.Request, error) {
	req, err := r.Request(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Request{}, errNotFound(id)
	}
	if err != nil {
		return ir.Request{}, fmt.Errorf("load request %d: %w", id, err)
	}
	return req, nil
}
