package harness

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/timelock/internal/ir"
)

// TraceSnapshot captures what a scenario did: step outcomes and the
// committed event log.
type TraceSnapshot struct {
	ScenarioName string
	Steps        []StepRecord
	Events       []ir.Event
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
func (s *TraceSnapshot) toCanonicalMap() (map[string]any, error) {
	steps := make([]any, len(s.Steps))
	for i, rec := range s.Steps {
		step := map[string]any{
			"index":   int64(rec.Index),
			"op":      rec.Op,
			"outcome": rec.Outcome,
		}
		if rec.Caller != "" {
			step["caller"] = rec.Caller
		}
		if rec.ID != nil {
			step["id"] = int64(*rec.ID)
		}
		if rec.FailureMap != "" {
			step["failure_map"] = rec.FailureMap
		}
		if rec.Results != nil {
			step["results"] = rec.Results
		}
		steps[i] = step
	}

	events := make([]any, len(s.Events))
	for i, ev := range s.Events {
		payload, err := ev.Payload()
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		events[i] = map[string]any{
			"seq":        ev.Seq,
			"kind":       string(ev.Kind),
			"flow_token": ev.FlowToken,
			"payload":    payload,
		}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"steps":         steps,
		"events":        events,
	}, nil
}

// MarshalTrace renders a result as canonical JSON. This is the content of
// golden files.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Steps:        result.Steps,
		Events:       result.Events,
	}
	m, err := snapshot.toCanonicalMap()
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(m)
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
