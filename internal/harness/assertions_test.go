package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timelock/internal/ir"
)

func intPtr(n int) *int { return &n }

func TestAssertEventCount(t *testing.T) {
	events := []ir.Event{
		{Seq: 1, Kind: ir.EventInitialized},
		{Seq: 2, Kind: ir.EventRequestCreated},
		{Seq: 3, Kind: ir.EventRequestCreated},
	}

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"all events", Assertion{Type: AssertEventCount, Count: intPtr(3)}, ""},
		{"by kind", Assertion{Type: AssertEventCount, Kind: "request_created", Count: intPtr(2)}, ""},
		{"none of kind", Assertion{Type: AssertEventCount, Kind: "request_executed", Count: intPtr(0)}, ""},
		{"wrong total", Assertion{Type: AssertEventCount, Count: intPtr(2)}, "Actual: 3 events"},
		{"wrong kind count", Assertion{Type: AssertEventCount, Kind: "request_created", Count: intPtr(1)}, "Expected: 1 request_created events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertEventCount(events, tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{Type: AssertExecuted, Expected: "request 0 executed", Actual: "request 0 pending"}
	assert.Equal(t,
		"Assertion failed: executed\n  Expected: request 0 executed\n  Actual: request 0 pending",
		err.Error())
}

func TestRequestStateAssertions(t *testing.T) {
	s := mustParse(t, `
name: states
description: "state assertions report the actual state"
delay: 1h
roles:
  PROPOSER: [alice]
steps:
  - op: create
    caller: alice
assertions:
  - type: pending
    ids: [0]
  - type: executed
    ids: [0]
  - type: pending
    ids: [5]
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "Actual: request 0 pending")
	assert.Contains(t, result.Errors[1], "NOT_FOUND")
}
