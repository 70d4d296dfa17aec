package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/timelock/internal/engine"
	"github.com/roach88/timelock/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// assertRequestState checks that every listed request exists and is in the
// wanted state.
func assertRequestState(ctx context.Context, eng *engine.Engine, assertion Assertion, executed bool) error {
	want := "pending"
	if executed {
		want = "executed"
	}

	for _, id := range assertion.IDs {
		req, err := eng.Request(ctx, id)
		if err != nil {
			return &AssertionError{
				Type:     assertion.Type,
				Expected: fmt.Sprintf("request %d %s", id, want),
				Actual:   err.Error(),
			}
		}
		if req.Executed != executed {
			return &AssertionError{
				Type:     assertion.Type,
				Expected: fmt.Sprintf("request %d %s", id, want),
				Actual:   fmt.Sprintf("request %d %s", id, req.State()),
			}
		}
	}
	return nil
}

// assertDelay checks the current delay.
func assertDelay(ctx context.Context, eng *engine.Engine, assertion Assertion) error {
	want, err := parseDuration(assertion.Delay)
	if err != nil {
		return err
	}
	got, err := eng.Delay(ctx)
	if err != nil {
		return &AssertionError{
			Type:     AssertDelay,
			Expected: fmt.Sprintf("delay %s", want),
			Actual:   err.Error(),
		}
	}
	if got != want {
		return &AssertionError{
			Type:     AssertDelay,
			Expected: fmt.Sprintf("delay %s", want),
			Actual:   fmt.Sprintf("delay %s", got),
		}
	}
	return nil
}

// assertEventCount checks the number of events, optionally of one kind.
func assertEventCount(events []ir.Event, assertion Assertion) error {
	count := 0
	for _, ev := range events {
		if assertion.Kind == "" || ev.Kind == ir.EventKind(assertion.Kind) {
			count++
		}
	}

	if count != *assertion.Count {
		what := "events"
		if assertion.Kind != "" {
			what = assertion.Kind + " events"
		}
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s", *assertion.Count, what),
			Actual:   fmt.Sprintf("%d %s", count, what),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the engine state and
// the event log. Returns a slice of error messages for failed assertions.
func EvaluateAssertions(ctx context.Context, eng *engine.Engine, events []ir.Event, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertExecuted:
			err = assertRequestState(ctx, eng, assertion, true)
		case AssertPending:
			err = assertRequestState(ctx, eng, assertion, false)
		case AssertDelay:
			err = assertDelay(ctx, eng, assertion)
		case AssertEventCount:
			if assertion.Count == nil {
				err = fmt.Errorf("assertion[%d]: event_count requires count", i)
			} else {
				err = assertEventCount(events, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
