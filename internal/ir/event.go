package ir

import (
	"fmt"
	"time"
)

// EventKind distinguishes entries in the event log.
type EventKind string

const (
	// EventInitialized is emitted once when the registry is set up.
	EventInitialized EventKind = "initialized"
	// EventRequestCreated is emitted when a proposer stores a new request.
	EventRequestCreated EventKind = "request_created"
	// EventDelayChanged is emitted on every successful delay update.
	EventDelayChanged EventKind = "delay_changed"
	// EventRequestExecuted is emitted when a request reaches the executed state.
	EventRequestExecuted EventKind = "request_executed"
)

// Event is a single entry of the append-only event log.
// Exactly one payload pointer is set, matching Kind.
type Event struct {
	Seq       int64     `json:"seq"`
	Kind      EventKind `json:"kind"`
	FlowToken string    `json:"flow_token"`

	Initialized  *Initialized     `json:"initialized,omitempty"`
	Created      *RequestCreated  `json:"created,omitempty"`
	DelayChanged *DelayChanged    `json:"delay_changed,omitempty"`
	Executed     *RequestExecuted `json:"executed,omitempty"`
}

// Initialized records the initial configuration.
type Initialized struct {
	Delay time.Duration `json:"delay"`
}

// RequestCreated carries the creation arguments. Metadata is only
// published here; it is never stored on the request itself.
type RequestCreated struct {
	RequestID       uint64   `json:"request_id"`
	Proposer        string   `json:"proposer"`
	Metadata        []byte   `json:"metadata"`
	Actions         []Action `json:"actions"`
	AllowFailureMap Bitmap   `json:"allow_failure_map"`
}

// DelayChanged carries the new delay value.
type DelayChanged struct {
	Delay time.Duration `json:"delay"`
}

// RequestExecuted carries the outcome of an execution.
type RequestExecuted struct {
	RequestID  uint64   `json:"request_id"`
	Executor   string   `json:"executor"`
	Fast       bool     `json:"fast"`
	Results    [][]byte `json:"results"`
	FailureMap Bitmap   `json:"failure_map"`
}

// RequestID returns the request the event refers to, if any.
func (e Event) RequestID() (uint64, bool) {
	switch {
	case e.Created != nil:
		return e.Created.RequestID, true
	case e.Executed != nil:
		return e.Executed.RequestID, true
	default:
		return 0, false
	}
}

// Payload returns the canonical form of the event payload.
// Used for the persisted event log and golden traces.
func (e Event) Payload() (map[string]any, error) {
	switch e.Kind {
	case EventInitialized:
		if e.Initialized == nil {
			return nil, fmt.Errorf("%s event missing payload", e.Kind)
		}
		return map[string]any{
			"delay_seconds": int64(e.Initialized.Delay / time.Second),
		}, nil

	case EventRequestCreated:
		if e.Created == nil {
			return nil, fmt.Errorf("%s event missing payload", e.Kind)
		}
		return map[string]any{
			"request_id":        int64(e.Created.RequestID),
			"proposer":          e.Created.Proposer,
			"metadata":          EncodeData(e.Created.Metadata),
			"actions":           actionsCanonical(e.Created.Actions),
			"allow_failure_map": e.Created.AllowFailureMap.String(),
		}, nil

	case EventDelayChanged:
		if e.DelayChanged == nil {
			return nil, fmt.Errorf("%s event missing payload", e.Kind)
		}
		return map[string]any{
			"delay_seconds": int64(e.DelayChanged.Delay / time.Second),
		}, nil

	case EventRequestExecuted:
		if e.Executed == nil {
			return nil, fmt.Errorf("%s event missing payload", e.Kind)
		}
		results := make([]any, len(e.Executed.Results))
		for i, r := range e.Executed.Results {
			results[i] = EncodeData(r)
		}
		return map[string]any{
			"request_id":  int64(e.Executed.RequestID),
			"executor":    e.Executed.Executor,
			"fast":        e.Executed.Fast,
			"results":     results,
			"failure_map": e.Executed.FailureMap.String(),
		}, nil

	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
}

// DecodeEvent rebuilds an event from its persisted payload.
func DecodeEvent(seq int64, kind EventKind, flowToken string, payload map[string]any) (Event, error) {
	ev := Event{Seq: seq, Kind: kind, FlowToken: flowToken}
	switch kind {
	case EventInitialized:
		secs, err := intField(payload, "delay_seconds")
		if err != nil {
			return Event{}, err
		}
		ev.Initialized = &Initialized{Delay: time.Duration(secs) * time.Second}

	case EventDelayChanged:
		secs, err := intField(payload, "delay_seconds")
		if err != nil {
			return Event{}, err
		}
		ev.DelayChanged = &DelayChanged{Delay: time.Duration(secs) * time.Second}

	case EventRequestCreated:
		id, err := intField(payload, "request_id")
		if err != nil {
			return Event{}, err
		}
		meta, err := DecodeData(stringField(payload, "metadata"))
		if err != nil {
			return Event{}, err
		}
		actions, err := actionsFromCanonical(payload["actions"])
		if err != nil {
			return Event{}, err
		}
		mask, err := ParseBitmap(stringField(payload, "allow_failure_map"))
		if err != nil {
			return Event{}, err
		}
		ev.Created = &RequestCreated{
			RequestID:       uint64(id),
			Proposer:        stringField(payload, "proposer"),
			Metadata:        meta,
			Actions:         actions,
			AllowFailureMap: mask,
		}

	case EventRequestExecuted:
		id, err := intField(payload, "request_id")
		if err != nil {
			return Event{}, err
		}
		fast, _ := payload["fast"].(bool)
		raw, _ := payload["results"].([]any)
		results := make([][]byte, len(raw))
		for i, r := range raw {
			s, _ := r.(string)
			b, err := DecodeData(s)
			if err != nil {
				return Event{}, fmt.Errorf("results[%d]: %w", i, err)
			}
			results[i] = b
		}
		fm, err := ParseBitmap(stringField(payload, "failure_map"))
		if err != nil {
			return Event{}, err
		}
		ev.Executed = &RequestExecuted{
			RequestID:  uint64(id),
			Executor:   stringField(payload, "executor"),
			Fast:       fast,
			Results:    results,
			FailureMap: fm,
		}

	default:
		return Event{}, fmt.Errorf("unknown event kind %q", kind)
	}
	return ev, nil
}

// actionsCanonical converts an action batch to its canonical JSON form.
func actionsCanonical(actions []Action) []any {
	out := make([]any, len(actions))
	for i, a := range actions {
		out[i] = map[string]any{
			"target": a.Target,
			// Value is rendered as a decimal string; uint64 exceeds the int64 range.
			"value": fmt.Sprintf("%d", a.Value),
			"data":  EncodeData(a.Data),
		}
	}
	return out
}

func actionsFromCanonical(v any) ([]Action, error) {
	raw, ok := v.([]any)
	if !ok {
		if v == nil {
			return []Action{}, nil
		}
		return nil, fmt.Errorf("actions: expected array, got %T", v)
	}
	actions := make([]Action, len(raw))
	for i, elem := range raw {
		m, ok := elem.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("actions[%d]: expected object, got %T", i, elem)
		}
		var value uint64
		if s := stringField(m, "value"); s != "" {
			if _, err := fmt.Sscanf(s, "%d", &value); err != nil {
				return nil, fmt.Errorf("actions[%d].value: %w", i, err)
			}
		}
		data, err := DecodeData(stringField(m, "data"))
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		actions[i] = Action{Target: stringField(m, "target"), Value: value, Data: data}
	}
	return actions, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// intField reads an integer that went through encoding/json with UseNumber
// or was built in-process as int64.
func intField(m map[string]any, key string) (int64, error) {
	switch v := m[key].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case interface{ Int64() (int64, error) }:
		return v.Int64()
	case nil:
		return 0, fmt.Errorf("missing field %q", key)
	default:
		return 0, fmt.Errorf("field %q: expected integer, got %T", key, v)
	}
}
