package harness

import "github.com/roach88/timelock/internal/ir"

// outcomeOK is the outcome of a step that succeeded.
const outcomeOK = "ok"

// StepRecord is what one step actually did.
type StepRecord struct {
	Index   int    `json:"index"`
	Op      string `json:"op"`
	Caller  string `json:"caller,omitempty"`
	Outcome string `json:"outcome"` // "ok" or an engine error code

	// ID is the created request for create steps and the target for
	// execute steps.
	ID *uint64 `json:"id,omitempty"`

	FailureMap string   `json:"failure_map,omitempty"`
	Results    []string `json:"results,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	Steps []StepRecord `json:"steps"`

	// Events is the committed event log after the last step.
	Events []ir.Event `json:"events"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepRecord{},
		Events: []ir.Event{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step record.
func (r *Result) AddStep(rec StepRecord) {
	r.Steps = append(r.Steps, rec)
}
