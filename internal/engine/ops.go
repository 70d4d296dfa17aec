package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/timelock/internal/ir"
)

// Initialize sets up the registry with its initial delay. It succeeds once;
// every later call fails with ALREADY_INITIALIZED.
//
// Delays have one-second resolution; sub-second parts are dropped.
func (e *Engine) Initialize(ctx context.Context, delay time.Duration) error {
	delay = delay.Truncate(time.Second)

	return e.transition(ctx, "initialize", func(ctx context.Context, f *frame) error {
		ok, err := f.tx.Initialized(ctx)
		if err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		if ok {
			return errAlreadyInitialized()
		}
		if err := checkDelay(delay); err != nil {
			return err
		}

		if err := f.tx.InitSettings(ctx, delay); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		if err := f.emit(ctx, ir.Event{
			Kind:        ir.EventInitialized,
			Initialized: &ir.Initialized{Delay: delay},
		}); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}

		f.after(func() {
			e.metrics.DelayChanged(delay)
			e.log.Info("registry initialized",
				"delay", delay,
				"flow_token", f.flowToken,
			)
		})
		return nil
	})
}

// Create stores a new pending request and returns its id.
// Requires the PROPOSER capability.
//
// metadata is published in the request_created event and not stored on
// the request. An empty batch is valid.
func (e *Engine) Create(ctx context.Context, caller string, metadata []byte, actions []ir.Action, allowFailureMap ir.Bitmap) (uint64, error) {
	var id uint64
	actions = cloneActions(actions)
	metadata = cloneBytes(metadata)

	err := e.transition(ctx, "create", func(ctx context.Context, f *frame) error {
		if err := e.requireInitialized(ctx, f); err != nil {
			return err
		}
		if err := e.authorize(ctx, f, caller, ir.CapabilityProposer); err != nil {
			return err
		}
		if len(actions) > ir.MaxActions {
			return errTooManyActions(len(actions))
		}

		newID, err := f.tx.AllocateRequestID(ctx)
		if err != nil {
			return fmt.Errorf("create: %w", err)
		}

		req := ir.Request{
			ID:              newID,
			Actions:         actions,
			AllowFailureMap: allowFailureMap,
			CreatedAt:       e.clock.Now().UTC(),
		}
		if err := f.tx.InsertRequest(ctx, req); err != nil {
			return fmt.Errorf("create: %w", err)
		}

		if err := f.emit(ctx, ir.Event{
			Kind: ir.EventRequestCreated,
			Created: &ir.RequestCreated{
				RequestID:       newID,
				Proposer:        caller,
				Metadata:        metadata,
				Actions:         actions,
				AllowFailureMap: allowFailureMap,
			},
		}); err != nil {
			return fmt.Errorf("create: %w", err)
		}

		f.after(func() {
			e.metrics.RequestCreated()
			e.log.Info("request created",
				"request_id", newID,
				"proposer", caller,
				"actions", len(actions),
				"allow_failure_map", allowFailureMap,
				"flow_token", f.flowToken,
			)
		})

		id = newID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Execute runs a pending request on the normal path. Anyone may call it
// once the delay has elapsed since the request was created. The delay in
// effect at execution time applies.
//
// Returns the per-action results and the failure map reported by the
// executor.
func (e *Engine) Execute(ctx context.Context, caller string, id uint64) (Outcome, error) {
	return e.execute(ctx, "execute", caller, id, false)
}

// ExecuteFast runs a pending request immediately, skipping the delay.
// Requires the FAST_EXECUTE capability.
func (e *Engine) ExecuteFast(ctx context.Context, caller string, id uint64) (Outcome, error) {
	return e.execute(ctx, "execute_fast", caller, id, true)
}

func (e *Engine) execute(ctx context.Context, op, caller string, id uint64, fast bool) (Outcome, error) {
	var result Outcome

	err := e.transition(ctx, op, func(ctx context.Context, f *frame) error {
		if err := e.requireInitialized(ctx, f); err != nil {
			return err
		}
		if fast {
			if err := e.authorize(ctx, f, caller, ir.CapabilityFastExecute); err != nil {
				return err
			}
		}

		req, err := loadRequest(ctx, f.tx, id)
		if err != nil {
			return err
		}
		if req.Executed {
			return errAlreadyExecuted(id)
		}

		now := e.clock.Now().UTC()
		if !fast {
			delay, err := f.tx.Delay(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			if eligibleAt := req.EligibleAt(delay); now.Before(eligibleAt) {
				return errDelayNotElapsed(id, eligibleAt)
			}
		}

		// From here on the request reads as executed, including to any
		// reentrant call the executor makes.
		claimed, err := f.tx.ClaimExecution(ctx, id, now)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !claimed {
			return errAlreadyExecuted(id)
		}

		e.log.Debug("executing request",
			"request_id", id,
			"actions", len(req.Actions),
			"fast", fast,
			"depth", f.depth,
			"flow_token", f.flowToken,
		)

		outcome, err := e.executor.Execute(ctx, Batch{
			RequestID:       id,
			Actions:         req.Actions,
			AllowFailureMap: req.AllowFailureMap,
		})
		if err != nil {
			return errActionFailed(id, err)
		}
		if disallowed := outcome.FailureMap &^ req.AllowFailureMap; disallowed != 0 {
			return errActionFailed(id, fmt.Errorf("executor reported failures %s outside allowed %s", disallowed, req.AllowFailureMap))
		}

		results := make([][]byte, len(outcome.Results))
		for i, r := range outcome.Results {
			results[i] = cloneBytes(r)
		}
		outcome.Results = results

		if err := f.tx.RecordOutcome(ctx, id, outcome.FailureMap); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := f.emit(ctx, ir.Event{
			Kind: ir.EventRequestExecuted,
			Executed: &ir.RequestExecuted{
				RequestID:  id,
				Executor:   caller,
				Fast:       fast,
				Results:    outcome.Results,
				FailureMap: outcome.FailureMap,
			},
		}); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		f.after(func() {
			e.metrics.RequestExecuted(fast)
			e.log.Info("request executed",
				"request_id", id,
				"executor", caller,
				"fast", fast,
				"failure_map", outcome.FailureMap,
				"flow_token", f.flowToken,
			)
		})

		result = outcome
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return result, nil
}

// SetDelay replaces the delay. Requires the CONFIGURATOR capability.
// The new value applies to every pending request, not only new ones.
//
// Delays have one-second resolution; sub-second parts are dropped.
func (e *Engine) SetDelay(ctx context.Context, caller string, delay time.Duration) error {
	delay = delay.Truncate(time.Second)

	return e.transition(ctx, "set_delay", func(ctx context.Context, f *frame) error {
		if err := e.requireInitialized(ctx, f); err != nil {
			return err
		}
		if err := e.authorize(ctx, f, caller, ir.CapabilityConfigurator); err != nil {
			return err
		}
		if err := checkDelay(delay); err != nil {
			return err
		}

		if err := f.tx.SetDelay(ctx, delay); err != nil {
			return fmt.Errorf("set delay: %w", err)
		}
		if err := f.emit(ctx, ir.Event{
			Kind:         ir.EventDelayChanged,
			DelayChanged: &ir.DelayChanged{Delay: delay},
		}); err != nil {
			return fmt.Errorf("set delay: %w", err)
		}

		f.after(func() {
			e.metrics.DelayChanged(delay)
			e.log.Info("delay changed",
				"delay", delay,
				"caller", caller,
				"flow_token", f.flowToken,
			)
		})
		return nil
	})
}

func (e *Engine) requireInitialized(ctx context.Context, f *frame) error {
	ok, err := f.tx.Initialized(ctx)
	if err != nil {
		return fmt.Errorf("check initialized: %w", err)
	}
	if !ok {
		return errNotInitialized()
	}
	return nil
}

// authorize asks the authority on every call; answers are never cached.
func (e *Engine) authorize(ctx context.Context, f *frame, caller string, capability ir.Capability) error {
	ok, err := e.authority.HasCapability(ctx, caller, capability)
	if err != nil {
		return fmt.Errorf("check capability %s for %q: %w", capability, caller, err)
	}
	e.log.Debug("capability check",
		"caller", caller,
		"capability", capability,
		"granted", ok,
		"flow_token", f.flowToken,
	)
	if !ok {
		return errUnauthorized(caller, capability)
	}
	return nil
}

func checkDelay(d time.Duration) error {
	if d < 0 || d > ir.MaxDelay {
		return errDelayOutOfRange(d)
	}
	return nil
}

func cloneActions(actions []ir.Action) []ir.Action {
	out := make([]ir.Action, len(actions))
	for i, a := range actions {
		out[i] = ir.Action{Target: a.Target, Value: a.Value, Data: cloneBytes(a.Data)}
	}
	return out
}

// cloneBytes copies b. Empty data is nil, matching what the log decodes.
func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return slices.Clone(b)
}
