package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timelock/internal/ir"
)

func mustParse(t *testing.T, content string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(content))
	require.NoError(t, err)
	return s
}

func TestRun_Passes(t *testing.T) {
	s := mustParse(t, `
name: basic
description: "create then execute after the delay"
delay: 10s
roles:
  PROPOSER: [alice]
steps:
  - op: create
    caller: alice
    actions:
      - target: echo
        data: "0x2a"
    expect:
      id: 0
  - op: advance
    advance: 10s
  - op: execute
    caller: anyone
    id: 0
    expect:
      results: ["0x2a"]
      failure_map: "0"
assertions:
  - type: executed
    ids: [0]
  - type: delay
    delay: 10s
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, outcomeOK, result.Steps[2].Outcome)
	assert.Equal(t, []string{"0x2a"}, result.Steps[2].Results)
	require.Len(t, result.Events, 3)
	assert.Equal(t, ir.EventRequestExecuted, result.Events[2].Kind)
}

func TestRun_UnexpectedErrorFails(t *testing.T) {
	s := mustParse(t, `
name: unexpected
description: "execute too early without expecting it"
delay: 1h
roles:
  PROPOSER: [alice]
steps:
  - op: create
    caller: alice
  - op: execute
    id: 0
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 1 (execute): expected outcome ok, got DELAY_NOT_ELAPSED")
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	s := mustParse(t, `
name: missing_error
description: "expects a rejection that does not happen"
delay: 0s
roles:
  PROPOSER: [alice]
steps:
  - op: create
    caller: alice
    expect:
      error: UNAUTHORIZED
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected outcome UNAUTHORIZED, got ok")
}

func TestRun_ExpectMismatches(t *testing.T) {
	s := mustParse(t, `
name: mismatches
description: "wrong id, failure map and results"
delay: 0s
roles:
  PROPOSER: [alice]
steps:
  - op: create
    caller: alice
    actions:
      - target: echo
        data: "0x01"
      - target: fail
    allow_failure: "0x2"
    expect:
      id: 3
  - op: execute
    id: 0
    expect:
      failure_map: "0x0"
      results: ["0x02", "0x"]
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "expected id 3, got 0")
	assert.Contains(t, result.Errors[1], "expected failure_map 0x0, got 0x2")
	assert.Contains(t, result.Errors[2], "expected results")
}

func TestRun_GroupGrant(t *testing.T) {
	s := mustParse(t, `
name: group_grant
description: "capabilities granted to a group reach its members"
delay: 1h
roles:
  PROPOSER: ["group:ops"]
  FAST_EXECUTE: ["group:ops"]
groups:
  ops: [erin]
steps:
  - op: create
    caller: erin
  - op: execute_fast
    caller: erin
    id: 0
  - op: create
    caller: frank
    expect:
      error: UNAUTHORIZED
assertions:
  - type: executed
    ids: [0]
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_Uninitialized(t *testing.T) {
	s := mustParse(t, `
name: uninitialized
description: "nothing works before initialize"
steps:
  - op: set_delay
    caller: carol
    delay: 1s
    expect:
      error: NOT_INITIALIZED
assertions:
  - type: delay
    delay: 1s
  - type: event_count
    count: 0
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: delay")
	assert.Empty(t, result.Events)
}

func TestRun_TooManyActions(t *testing.T) {
	actions := "    actions:\n"
	for i := 0; i < ir.MaxActions+1; i++ {
		actions += "      - target: noop\n"
	}
	s := mustParse(t, `
name: too_many
description: "batches are bounded by the bitmap width"
delay: 0s
roles:
  PROPOSER: [alice]
steps:
  - op: create
    caller: alice
`+actions+`    expect:
      error: TOO_MANY_ACTIONS
assertions:
  - type: event_count
    kind: request_created
    count: 0
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_Isolated(t *testing.T) {
	s := mustParse(t, `
name: isolated
description: "every run starts from an empty store"
delay: 0s
roles:
  PROPOSER: [alice]
steps:
  - op: create
    caller: alice
    expect:
      id: 0
`)

	for i := 0; i < 2; i++ {
		result, err := Run(s)
		require.NoError(t, err)
		assert.True(t, result.Pass, "errors: %v", result.Errors)
	}
}
