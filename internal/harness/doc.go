// Package harness provides conformance testing for the timelock registry.
//
// The harness runs YAML scenarios against a real engine backed by a fresh
// in-memory store, checks each step's outcome and evaluates assertions on
// the final state.
//
// # Scenario Format
//
//	name: fast_path
//	description: "Fast executors skip the delay"
//	delay: 1h
//	roles:
//	  PROPOSER: [alice]
//	  FAST_EXECUTE: ["group:council"]
//	groups:
//	  council: [bob]
//	targets:
//	  transfer: ok
//	  broken: fail
//	steps:
//	  - op: create
//	    caller: alice
//	    actions:
//	      - target: transfer
//	        value: 10
//	        data: "0x01"
//	    expect:
//	      id: 0
//	  - op: execute
//	    id: 0
//	    expect:
//	      error: DELAY_NOT_ELAPSED
//	  - op: execute_fast
//	    caller: bob
//	    id: 0
//	assertions:
//	  - type: executed
//	    ids: [0]
//	  - type: event_count
//	    kind: request_executed
//	    count: 1
//
// A scenario without delay starts uninitialized; an initialize step can
// then set it up. Steps are create, execute, execute_fast, set_delay,
// initialize and advance (moves the clock). A step without expect.error
// must succeed.
//
// # Assertion Types
//
//   - executed: every listed request is executed
//   - pending: every listed request exists and is pending
//   - delay: the current delay equals the given duration
//   - event_count: the log holds count events, optionally of one kind
//
// # Deterministic Testing
//
// Every run uses a manual clock starting at testutil.Epoch and fixed flow
// tokens ("flow-0001", ...), so the trace of a scenario is byte-identical
// across runs and can be compared with a golden file.
package harness
