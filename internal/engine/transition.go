package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/timelock/internal/ir"
	"github.com/roach88/timelock/internal/store"
)

type frameKey struct{}

// frame is one open transition. The outermost frame owns the store
// transaction; nested frames share it behind a savepoint.
type frame struct {
	engine    *Engine
	tx        *store.Tx
	depth     int
	flowToken string
	root      *frame

	// root only
	hooks []func()
	done  bool
}

// frameFrom returns the open transition carried by ctx, if it belongs to
// this engine and has not finished.
func (e *Engine) frameFrom(ctx context.Context) *frame {
	f, ok := ctx.Value(frameKey{}).(*frame)
	if !ok || f.engine != e || f.root.done {
		return nil
	}
	return f
}

// transition runs fn atomically. Post-commit hooks run after the engine
// mutex is released.
func (e *Engine) transition(ctx context.Context, op string, fn func(ctx context.Context, f *frame) error) error {
	if parent := e.frameFrom(ctx); parent != nil {
		return e.nested(ctx, parent, op, fn)
	}

	hooks, err := e.outermost(ctx, op, fn)
	if err != nil {
		return err
	}
	for _, h := range hooks {
		h()
	}
	return nil
}

func (e *Engine) outermost(ctx context.Context, op string, fn func(ctx context.Context, f *frame) error) ([]func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	f := &frame{engine: e, tx: tx, flowToken: e.flowGen.Generate()}
	f.root = f
	defer func() { f.done = true }()

	if err := fn(context.WithValue(ctx, frameKey{}, f), f); err != nil {
		e.rejected(op, f, err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		e.log.Error("commit failed", "op", op, "flow_token", f.flowToken, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return f.hooks, nil
}

// nested runs fn inside a savepoint of the parent's transaction.
func (e *Engine) nested(ctx context.Context, parent *frame, op string, fn func(ctx context.Context, f *frame) error) error {
	depth := parent.depth + 1
	f := &frame{
		engine:    e,
		tx:        parent.tx,
		depth:     depth,
		flowToken: parent.flowToken,
		root:      parent.root,
	}

	if err := e.checkDepth(depth); err != nil {
		e.rejected(op, f, err)
		return err
	}

	name := fmt.Sprintf("frame_%d", depth)
	if err := f.tx.Savepoint(ctx, name); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	mark := len(f.root.hooks)

	if err := fn(context.WithValue(ctx, frameKey{}, f), f); err != nil {
		if rbErr := f.tx.RollbackTo(context.WithoutCancel(ctx), name); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		f.root.hooks = f.root.hooks[:mark]
		e.rejected(op, f, err)
		return err
	}

	if err := f.tx.Release(ctx, name); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// emit appends ev to the log within the transition and schedules its
// publication for after commit.
func (f *frame) emit(ctx context.Context, ev ir.Event) error {
	ev.FlowToken = f.flowToken
	seq, err := f.tx.AppendEvent(ctx, ev)
	if err != nil {
		return err
	}
	ev.Seq = seq

	e := f.engine
	f.after(func() {
		for _, obs := range e.observers {
			obs.OnEvent(ev)
		}
	})
	return nil
}

// after schedules fn to run once the outermost transition commits.
// Discarded if this frame or any enclosing one fails.
func (f *frame) after(fn func()) {
	f.root.hooks = append(f.root.hooks, fn)
}

func (e *Engine) rejected(op string, f *frame, err error) {
	if code, ok := CodeOf(err); ok {
		e.metrics.OperationRejected(op, code)
		e.log.Warn("operation rejected",
			"op", op,
			"code", code,
			"depth", f.depth,
			"flow_token", f.flowToken,
			"error", err,
		)
		return
	}
	e.log.Error("transition failed",
		"op", op,
		"depth", f.depth,
		"flow_token", f.flowToken,
		"error", err,
	)
}
