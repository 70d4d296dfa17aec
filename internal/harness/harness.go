package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/timelock/internal/dispatch"
	"github.com/roach88/timelock/internal/engine"
	"github.com/roach88/timelock/internal/ir"
	"github.com/roach88/timelock/internal/manifest"
	"github.com/roach88/timelock/internal/store"
	"github.com/roach88/timelock/internal/testutil"
)

// errTargetFailed is returned by targets configured to fail.
var errTargetFailed = errors.New("target failed")

// Harness is the test execution engine.
// It runs scenarios with a manual clock and fixed flow tokens.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.ManualClock
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// A non-nil error means the scenario could not run at all; mismatched
// expectations and failed assertions are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	authority, err := scenarioManifest(scenario).Authority()
	if err != nil {
		return nil, fmt.Errorf("failed to set up roles: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	targets := dispatch.NewRegistry(logger)
	dispatch.RegisterBuiltins(targets)
	for _, target := range sortedTargets(scenario.Targets) {
		targets.Register(target, behaviorHandler(scenario.Targets[target]))
	}

	clock := testutil.NewManualClock(testutil.Epoch)
	h := &Harness{
		store: st,
		engine: engine.New(st, authority, targets,
			engine.WithClock(clock),
			engine.WithFlowTokens(testutil.NewFixedFlowGenerator("flow")),
			engine.WithLogger(logger),
		),
		clock:  clock,
		logger: logger,
	}

	if scenario.Delay != "" {
		delay, err := parseDuration(scenario.Delay)
		if err != nil {
			return nil, fmt.Errorf("delay: %w", err)
		}
		if err := h.engine.Initialize(ctx, delay); err != nil {
			return nil, fmt.Errorf("failed to initialize: %w", err)
		}
	}

	result := NewResult()
	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	events, err := h.engine.Events(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	result.Events = events

	for _, errMsg := range EvaluateAssertions(ctx, h.engine, events, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeSteps runs all steps and checks their expect clauses.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		rec, err := h.executeStep(ctx, i, step)
		if err != nil {
			return err
		}
		result.AddStep(rec)

		for _, mismatch := range checkExpect(step, rec) {
			result.AddError(fmt.Sprintf("step %d (%s): %s", i, step.Op, mismatch))
		}

		h.logger.Info("step completed",
			"step", i,
			"op", step.Op,
			"outcome", rec.Outcome,
		)
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step Step) (StepRecord, error) {
	rec := StepRecord{Index: i, Op: step.Op, Caller: step.Caller, ID: step.ID}

	var opErr error
	switch step.Op {
	case OpAdvance:
		d, err := parseDuration(step.Advance)
		if err != nil {
			return rec, fmt.Errorf("step %d: advance: %w", i, err)
		}
		h.clock.Advance(d)

	case OpInitialize, OpSetDelay:
		d, err := parseDuration(step.Delay)
		if err != nil {
			return rec, fmt.Errorf("step %d: delay: %w", i, err)
		}
		if step.Op == OpInitialize {
			opErr = h.engine.Initialize(ctx, d)
		} else {
			opErr = h.engine.SetDelay(ctx, step.Caller, d)
		}

	case OpCreate:
		actions, err := ParseActions(step.Actions)
		if err != nil {
			return rec, fmt.Errorf("step %d: %w", i, err)
		}
		mask, err := ir.ParseBitmap(step.AllowFailure)
		if err != nil {
			return rec, fmt.Errorf("step %d: allow_failure: %w", i, err)
		}
		metadata, err := ir.DecodeData(step.Metadata)
		if err != nil {
			return rec, fmt.Errorf("step %d: metadata: %w", i, err)
		}
		var id uint64
		id, opErr = h.engine.Create(ctx, step.Caller, metadata, actions, mask)
		if opErr == nil {
			rec.ID = &id
		}

	case OpExecute, OpExecuteFast:
		if step.ID == nil {
			return rec, fmt.Errorf("step %d: id is required", i)
		}
		var out engine.Outcome
		if step.Op == OpExecuteFast {
			out, opErr = h.engine.ExecuteFast(ctx, step.Caller, *step.ID)
		} else {
			out, opErr = h.engine.Execute(ctx, step.Caller, *step.ID)
		}
		if opErr == nil {
			rec.FailureMap = out.FailureMap.String()
			rec.Results = encodeResults(out.Results)
		}

	default:
		return rec, fmt.Errorf("step %d: unknown op %q", i, step.Op)
	}

	if opErr == nil {
		rec.Outcome = outcomeOK
		return rec, nil
	}
	code, ok := engine.CodeOf(opErr)
	if !ok {
		return rec, fmt.Errorf("step %d (%s): %w", i, step.Op, opErr)
	}
	rec.Outcome = string(code)
	return rec, nil
}

// checkExpect compares a step record with the step's expect clause.
// A step without expect.error must succeed.
func checkExpect(step Step, rec StepRecord) []string {
	var mismatches []string

	want := outcomeOK
	if step.Expect != nil && step.Expect.Error != "" {
		want = step.Expect.Error
	}
	if rec.Outcome != want {
		mismatches = append(mismatches, fmt.Sprintf("expected outcome %s, got %s", want, rec.Outcome))
		return mismatches
	}
	if step.Expect == nil {
		return nil
	}

	if step.Expect.ID != nil && step.Op == OpCreate {
		if rec.ID == nil || *rec.ID != *step.Expect.ID {
			mismatches = append(mismatches, fmt.Sprintf("expected id %d, got %s", *step.Expect.ID, formatID(rec.ID)))
		}
	}
	if step.Expect.FailureMap != "" {
		want, _ := ir.ParseBitmap(step.Expect.FailureMap)
		got, _ := ir.ParseBitmap(rec.FailureMap)
		if want != got {
			mismatches = append(mismatches, fmt.Sprintf("expected failure_map %s, got %s", want, got))
		}
	}
	if step.Expect.Results != nil && !slices.Equal(normalizeHex(step.Expect.Results), rec.Results) {
		mismatches = append(mismatches, fmt.Sprintf("expected results %v, got %v", step.Expect.Results, rec.Results))
	}
	return mismatches
}

// scenarioManifest builds the manifest equivalent of the scenario's roles.
func scenarioManifest(s *Scenario) *manifest.Manifest {
	m := &manifest.Manifest{
		Roles:  make(map[ir.Capability][]string, len(s.Roles)),
		Groups: s.Groups,
	}
	for capability, subjects := range s.Roles {
		m.Roles[ir.Capability(capability)] = subjects
	}
	return m
}

func behaviorHandler(behavior string) dispatch.Handler {
	return func(_ context.Context, a ir.Action) ([]byte, error) {
		switch behavior {
		case BehaviorFail:
			return nil, fmt.Errorf("%s: %w", a.Target, errTargetFailed)
		case BehaviorEcho:
			return a.Data, nil
		default:
			return nil, nil
		}
	}
}

func sortedTargets(targets map[string]string) []string {
	keys := make([]string, 0, len(targets))
	for k := range targets {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func encodeResults(results [][]byte) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = ir.EncodeData(r)
	}
	return out
}

// normalizeHex rewrites hex strings the way EncodeData renders them.
func normalizeHex(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		b, err := ir.DecodeData(s)
		if err != nil {
			out[i] = s
			continue
		}
		out[i] = ir.EncodeData(b)
	}
	return out
}

func formatID(id *uint64) string {
	if id == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *id)
}
