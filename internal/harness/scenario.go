package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/timelock/internal/engine"
	"github.com/roach88/timelock/internal/ir"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Delay initializes the registry before the first step, as a Go
	// duration. Empty leaves the registry uninitialized.
	Delay string `yaml:"delay,omitempty"`

	// Roles maps capability names to callers or "group:<name>" subjects.
	Roles map[string][]string `yaml:"roles,omitempty"`

	// Groups maps group names to members.
	Groups map[string][]string `yaml:"groups,omitempty"`

	// Targets maps extra action targets to a behavior: ok, fail or echo.
	// The built-in echo, fail and noop targets are always available.
	Targets map[string]string `yaml:"targets,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one operation of the scenario.
type Step struct {
	Op     string `yaml:"op"`
	Caller string `yaml:"caller,omitempty"`

	// ID is the request executed by execute and execute_fast.
	ID *uint64 `yaml:"id,omitempty"`

	// create
	Metadata     string       `yaml:"metadata,omitempty"`
	Actions      []ActionSpec `yaml:"actions,omitempty"`
	AllowFailure string       `yaml:"allow_failure,omitempty"`

	// Delay is the new delay for initialize and set_delay.
	Delay string `yaml:"delay,omitempty"`

	// Advance moves the clock forward.
	Advance string `yaml:"advance,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Error is the expected engine error code. Empty means success.
	Error string `yaml:"error,omitempty"`

	// ID is the id a create step must return.
	ID *uint64 `yaml:"id,omitempty"`

	// FailureMap is the failure bitmap an execute step must return.
	FailureMap string `yaml:"failure_map,omitempty"`

	// Results are the hex results an execute step must return.
	Results []string `yaml:"results,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of executed, pending, delay or event_count.
	Type string `yaml:"type"`

	// IDs are the requests checked by executed and pending.
	IDs []uint64 `yaml:"ids,omitempty"`

	// Delay is the expected delay (delay).
	Delay string `yaml:"delay,omitempty"`

	// Kind restricts event_count to one event kind.
	Kind string `yaml:"kind,omitempty"`

	// Count is the expected number of events (event_count).
	Count *int `yaml:"count,omitempty"`
}

// Step operations.
const (
	OpInitialize  = "initialize"
	OpCreate      = "create"
	OpExecute     = "execute"
	OpExecuteFast = "execute_fast"
	OpSetDelay    = "set_delay"
	OpAdvance     = "advance"
)

// Assertion type constants.
const (
	AssertExecuted   = "executed"
	AssertPending    = "pending"
	AssertDelay      = "delay"
	AssertEventCount = "event_count"
)

// Target behaviors.
const (
	BehaviorOK   = "ok"
	BehaviorFail = "fail"
	BehaviorEcho = "echo"
)

var knownErrorCodes = map[string]bool{
	string(engine.ErrCodeAlreadyExecuted):    true,
	string(engine.ErrCodeUnauthorized):       true,
	string(engine.ErrCodeNotFound):           true,
	string(engine.ErrCodeAlreadyInitialized): true,
	string(engine.ErrCodeNotInitialized):     true,
	string(engine.ErrCodeDelayNotElapsed):    true,
	string(engine.ErrCodeDelayOutOfRange):    true,
	string(engine.ErrCodeTooManyActions):     true,
	string(engine.ErrCodeActionFailed):       true,
	string(engine.ErrCodeDepthExceeded):      true,
}

var knownEventKinds = map[ir.EventKind]bool{
	ir.EventInitialized:     true,
	ir.EventRequestCreated:  true,
	ir.EventDelayChanged:    true,
	ir.EventRequestExecuted: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if s.Delay != "" {
		if _, err := parseDuration(s.Delay); err != nil {
			return fmt.Errorf("delay: %w", err)
		}
	}

	for capability := range s.Roles {
		if !ir.ValidCapabilities[ir.Capability(capability)] {
			return fmt.Errorf("roles: unknown capability %q", capability)
		}
	}

	for target, behavior := range s.Targets {
		switch behavior {
		case BehaviorOK, BehaviorFail, BehaviorEcho:
		default:
			return fmt.Errorf("targets[%s]: unknown behavior %q (want ok, fail or echo)", target, behavior)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step *Step) error {
	switch step.Op {
	case OpCreate:
		if _, err := ParseActions(step.Actions); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
		if _, err := ir.ParseBitmap(step.AllowFailure); err != nil {
			return fmt.Errorf("steps[%d]: allow_failure: %w", index, err)
		}
		if _, err := ir.DecodeData(step.Metadata); err != nil {
			return fmt.Errorf("steps[%d]: metadata: %w", index, err)
		}
	case OpExecute, OpExecuteFast:
		if step.ID == nil {
			return fmt.Errorf("steps[%d]: id is required for %s", index, step.Op)
		}
	case OpInitialize, OpSetDelay:
		if step.Delay == "" {
			return fmt.Errorf("steps[%d]: delay is required for %s", index, step.Op)
		}
		if _, err := parseDuration(step.Delay); err != nil {
			return fmt.Errorf("steps[%d]: delay: %w", index, err)
		}
	case OpAdvance:
		if step.Advance == "" {
			return fmt.Errorf("steps[%d]: advance is required for advance", index)
		}
		if _, err := parseDuration(step.Advance); err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, step.Op)
	}

	if step.Expect != nil {
		if step.Expect.Error != "" && !knownErrorCodes[step.Expect.Error] {
			return fmt.Errorf("steps[%d].expect: unknown error code %q", index, step.Expect.Error)
		}
		if _, err := ir.ParseBitmap(step.Expect.FailureMap); err != nil {
			return fmt.Errorf("steps[%d].expect: failure_map: %w", index, err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertExecuted, AssertPending:
		if len(a.IDs) == 0 {
			return fmt.Errorf("assertions[%d]: ids list is required for %s", index, a.Type)
		}
	case AssertDelay:
		if a.Delay == "" {
			return fmt.Errorf("assertions[%d]: delay is required for delay", index)
		}
		if _, err := parseDuration(a.Delay); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertEventCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
		if a.Kind != "" && !knownEventKinds[ir.EventKind(a.Kind)] {
			return fmt.Errorf("assertions[%d]: unknown event kind %q", index, a.Kind)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
