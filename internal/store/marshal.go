package store

import (
	"fmt"
	"time"

	"github.com/roach88/timelock/internal/ir"
)

// marshalActions converts an action batch to canonical JSON TEXT for storage.
func marshalActions(actions []ir.Action) (string, error) {
	data, err := ir.MarshalActions(actions)
	if err != nil {
		return "", fmt.Errorf("marshal actions: %w", err)
	}
	return string(data), nil
}

// unmarshalActions parses the canonical JSON TEXT written by marshalActions.
func unmarshalActions(data string) ([]ir.Action, error) {
	if data == "" || data == "[]" {
		return []ir.Action{}, nil
	}
	actions, err := ir.UnmarshalActions([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	return actions, nil
}

// marshalEvent converts an event payload to canonical JSON TEXT.
func marshalEvent(ev ir.Event) (string, error) {
	payload, err := ev.Payload()
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	data, err := ir.MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return string(data), nil
}

// unmarshalEvent rebuilds an event from its row.
func unmarshalEvent(seq int64, kind, flowToken, payload string) (ir.Event, error) {
	m, err := ir.UnmarshalCanonical([]byte(payload))
	if err != nil {
		return ir.Event{}, fmt.Errorf("unmarshal event %d: %w", seq, err)
	}
	ev, err := ir.DecodeEvent(seq, ir.EventKind(kind), flowToken, m)
	if err != nil {
		return ir.Event{}, fmt.Errorf("unmarshal event %d: %w", seq, err)
	}
	return ev, nil
}

// Times are stored as unix nanoseconds in UTC.
func toUnixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
