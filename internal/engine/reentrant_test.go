package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timelock/internal/ir"
)

func TestReentrant_SameRequestRejected(t *testing.T) {
	h := newHarness(t)
	var innerErr error
	var sawExecuted bool
	h.executor.fn = func(ctx context.Context, b Batch) (Outcome, error) {
		req, err := h.engine.Request(ctx, b.RequestID)
		if err != nil {
			return Outcome{}, err
		}
		sawExecuted = req.Executed
		_, innerErr = h.engine.ExecuteFast(ctx, "bob", b.RequestID)
		return Outcome{}, nil
	}
	h.initialize(t, 0)
	id := h.create(t, twoActions(), 0)

	_, err := h.engine.Execute(context.Background(), "anyone", id)
	require.NoError(t, err)

	assert.True(t, sawExecuted, "request reads as executed while the executor runs")
	assert.True(t, IsAlreadyExecuted(innerErr), "got %v", innerErr)
	assert.Equal(t, 1, h.executor.calls())

	var executed int
	for _, ev := range h.events(t) {
		if ev.Kind == ir.EventRequestExecuted {
			executed++
		}
	}
	assert.Equal(t, 1, executed)
}

func TestReentrant_OtherRequestsAllowed(t *testing.T) {
	h := newHarness(t)
	var childID uint64
	h.executor.fn = func(ctx context.Context, b Batch) (Outcome, error) {
		if b.RequestID != 0 {
			return Outcome{}, nil
		}
		id, err := h.engine.Create(ctx, "alice", nil, twoActions(), 0)
		if err != nil {
			return Outcome{}, err
		}
		childID = id
		if _, err := h.engine.ExecuteFast(ctx, "bob", id); err != nil {
			return Outcome{}, err
		}
		return Outcome{}, nil
	}
	h.initialize(t, 0)
	parent := h.create(t, twoActions(), 0)

	_, err := h.engine.Execute(context.Background(), "anyone", parent)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), childID)
	assert.True(t, h.request(t, parent).Executed)
	assert.True(t, h.request(t, childID).Executed)

	var kinds []ir.EventKind
	for _, ev := range h.events(t) {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []ir.EventKind{
		ir.EventInitialized,
		ir.EventRequestCreated,
		ir.EventRequestCreated,
		ir.EventRequestExecuted,
		ir.EventRequestExecuted,
	}, kinds)
}

func TestReentrant_NestedEventsShareFlowToken(t *testing.T) {
	h := newHarness(t, withFlowTokens(NewFixedGenerator("init", "create", "outer")))
	h.executor.fn = func(ctx context.Context, b Batch) (Outcome, error) {
		if b.RequestID == 0 {
			_, err := h.engine.Create(ctx, "alice", nil, nil, 0)
			return Outcome{}, err
		}
		return Outcome{}, nil
	}
	h.initialize(t, 0)
	h.create(t, nil, 0)

	_, err := h.engine.Execute(context.Background(), "anyone", 0)
	require.NoError(t, err)

	events := h.events(t)
	require.Len(t, events, 4)
	assert.Equal(t, "outer", events[2].FlowToken)
	assert.Equal(t, "outer", events[3].FlowToken)
}

func TestReentrant_NestedFailureRollsBackOnlyItself(t *testing.T) {
	h := newHarness(t)
	var nestedErr error
	h.executor.fn = func(ctx context.Context, b Batch) (Outcome, error) {
		switch b.RequestID {
		case 0:
			// Create a request, then fail executing it: the create survives,
			// the failed execution leaves nothing.
			id, err := h.engine.Create(ctx, "alice", nil, []ir.Action{{Target: "fail"}}, 0)
			if err != nil {
				return Outcome{}, err
			}
			_, nestedErr = h.engine.ExecuteFast(ctx, "bob", id)
			return Outcome{}, nil
		default:
			return Outcome{}, errBoom
		}
	}
	h.initialize(t, 0)
	h.create(t, twoActions(), 0)

	_, err := h.engine.Execute(context.Background(), "anyone", 0)
	require.NoError(t, err)
	require.True(t, IsActionFailed(nestedErr), "got %v", nestedErr)

	assert.True(t, h.request(t, 0).Executed)
	assert.False(t, h.request(t, 1).Executed, "failed nested execution left request pending")

	events := h.events(t)
	require.Len(t, events, 4)
	assert.Equal(t, ir.EventRequestCreated, events[2].Kind)
	assert.Equal(t, ir.EventRequestExecuted, events[3].Kind)
	assert.Equal(t, uint64(0), events[3].Executed.RequestID)
	assert.Equal(t, events, h.publishedEvents())
}

func TestReentrant_OuterFailureRollsBackNestedWork(t *testing.T) {
	h := newHarness(t)
	h.executor.fn = func(ctx context.Context, b Batch) (Outcome, error) {
		if b.RequestID != 0 {
			return Outcome{}, nil
		}
		id, err := h.engine.Create(ctx, "alice", nil, nil, 0)
		if err != nil {
			return Outcome{}, err
		}
		if _, err := h.engine.ExecuteFast(ctx, "bob", id); err != nil {
			return Outcome{}, err
		}
		require.NoError(t, h.engine.SetDelay(ctx, "carol", 0))
		return Outcome{}, errBoom
	}
	h.initialize(t, 0)
	h.create(t, twoActions(), 0)
	before := len(h.publishedEvents())

	_, err := h.engine.Execute(context.Background(), "anyone", 0)
	require.True(t, IsActionFailed(err), "got %v", err)

	assert.False(t, h.request(t, 0).Executed)
	_, err = h.engine.Request(context.Background(), 1)
	assert.True(t, IsNotFound(err), "nested create rolled back: %v", err)
	assert.Len(t, h.events(t), 2)
	assert.Len(t, h.publishedEvents(), before, "nothing published for a failed transition")
	assert.Equal(t, 1, h.metrics.created, "only the committed create is counted")

	// The counter did not advance.
	assert.Equal(t, uint64(1), h.create(t, nil, 0))
}

func TestReentrant_UnauthorizedNestedCall(t *testing.T) {
	h := newHarness(t)
	var nestedErr error
	h.executor.fn = func(ctx context.Context, b Batch) (Outcome, error) {
		_, nestedErr = h.engine.Create(ctx, "mallory", nil, nil, 0)
		return Outcome{}, nil
	}
	h.initialize(t, 0)
	h.create(t, nil, 0)

	_, err := h.engine.Execute(context.Background(), "anyone", 0)
	require.NoError(t, err)
	assert.True(t, IsUnauthorized(nestedErr))
	assert.Equal(t, 1, h.metrics.rejected[ErrCodeUnauthorized])
}

func TestReentrant_DepthLimit(t *testing.T) {
	h := newHarness(t, withEngineOption(WithMaxDepth(2)))
	var errs []error
	h.executor.fn = func(ctx context.Context, b Batch) (Outcome, error) {
		id, err := h.engine.Create(ctx, "alice", nil, nil, 0)
		if err != nil {
			errs = append(errs, err)
			return Outcome{}, nil
		}
		_, err = h.engine.ExecuteFast(ctx, "bob", id)
		if err != nil {
			errs = append(errs, err)
		}
		return Outcome{}, nil
	}
	h.initialize(t, 0)
	h.create(t, nil, 0)

	_, err := h.engine.Execute(context.Background(), "anyone", 0)
	require.NoError(t, err)

	// depth 0: execute 0; depth 1: create 1 + execute 1;
	// depth 2: create 2 + execute 2; depth 3: rejected.
	require.Len(t, errs, 1)
	assert.True(t, IsDepthExceeded(errs[0]), "got %v", errs[0])
	assert.True(t, h.request(t, 2).Executed)
}

func TestReentrant_FinishedContextStartsNewTransition(t *testing.T) {
	h := newHarness(t)
	var saved context.Context
	h.executor.fn = func(ctx context.Context, b Batch) (Outcome, error) {
		saved = ctx
		return Outcome{}, nil
	}
	h.initialize(t, 0)
	h.create(t, nil, 0)

	_, err := h.engine.Execute(context.Background(), "anyone", 0)
	require.NoError(t, err)
	require.NotNil(t, saved)

	id, err := h.engine.Create(saved, "alice", nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Len(t, h.events(t), 4)
}

func TestConcurrent_ExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0)
	id := h.create(t, twoActions(), 0)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = h.engine.Execute(context.Background(), "anyone", id)
			} else {
				_, err = h.engine.ExecuteFast(context.Background(), "bob", id)
			}
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if IsAlreadyExecuted(err) {
				rejected++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, rejected)
	assert.Equal(t, 1, h.executor.calls())
}

func TestConcurrent_CreateNoGaps(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0)

	const workers = 20
	ids := make(chan uint64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			id, err := h.engine.Create(context.Background(), "alice", nil, nil, 0)
			if err == nil {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d allocated twice", id)
		seen[id] = true
	}
	require.Len(t, seen, workers)
	for i := uint64(0); i < workers; i++ {
		assert.True(t, seen[i], "id %d missing", i)
	}
}
