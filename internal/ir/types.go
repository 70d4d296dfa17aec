package ir

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxDelay is the largest wait period that may be configured (4 weeks).
const MaxDelay = 4 * 7 * 24 * time.Hour

// MaxActions is the largest batch a single request may carry.
// Bounded by the width of Bitmap.
const MaxActions = 64

// Capability names a role evaluated by the host authorization authority.
type Capability string

const (
	// CapabilityProposer allows creating execution requests.
	CapabilityProposer Capability = "PROPOSER"

	// CapabilityFastExecute allows executing a request without waiting for the delay.
	CapabilityFastExecute Capability = "FAST_EXECUTE"

	// CapabilityConfigurator allows changing the delay.
	CapabilityConfigurator Capability = "CONFIGURATOR"
)

// ValidCapabilities defines the recognised capability names.
var ValidCapabilities = map[Capability]bool{
	CapabilityProposer:     true,
	CapabilityFastExecute:  true,
	CapabilityConfigurator: true,
}

// Action is an opaque unit of work handed to the executor.
// The registry never interprets Target, Value or Data.
type Action struct {
	Target string `json:"target" yaml:"target"`
	Value  uint64 `json:"value" yaml:"value"`
	Data   []byte `json:"data" yaml:"data"`
}

// Bitmap is a per-action bit set. Bit i refers to action i of a batch.
type Bitmap uint64

// Has reports whether bit i is set.
func (b Bitmap) Has(i int) bool {
	if i < 0 || i >= MaxActions {
		return false
	}
	return b&(1<<uint(i)) != 0
}

// Set returns b with bit i set.
func (b Bitmap) Set(i int) Bitmap {
	if i < 0 || i >= MaxActions {
		return b
	}
	return b | (1 << uint(i))
}

// String renders the bitmap as 0x-prefixed hex.
func (b Bitmap) String() string {
	return "0x" + strconv.FormatUint(uint64(b), 16)
}

// ParseBitmap accepts decimal, 0x-hex or 0b-binary notation.
func ParseBitmap(s string) (Bitmap, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	base := 10
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s, base = s[2:], 16
	case strings.HasPrefix(s, "0b"), strings.HasPrefix(s, "0B"):
		s, base = s[2:], 2
	}
	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bitmap %q: %w", s, err)
	}
	return Bitmap(v), nil
}

// Request is a persisted execution request.
//
// Only Executed, ExecutedAt and FailureMap change after creation, and only
// once, when the request moves from pending to executed.
type Request struct {
	ID              uint64    `json:"id"`
	Actions         []Action  `json:"actions"`
	AllowFailureMap Bitmap    `json:"allow_failure_map"`
	CreatedAt       time.Time `json:"created_at"`
	Executed        bool      `json:"executed"`
	ExecutedAt      time.Time `json:"executed_at,omitzero"`
	FailureMap      Bitmap    `json:"failure_map"`
	ActionsHash     string    `json:"actions_hash"`
}

// EligibleAt returns the earliest time the request may run on the normal path.
func (r Request) EligibleAt(delay time.Duration) time.Time {
	return r.CreatedAt.Add(delay)
}

// State names the lifecycle state of the request.
func (r Request) State() string {
	if r.Executed {
		return "executed"
	}
	return "pending"
}

// EncodeData renders opaque bytes as 0x-prefixed hex.
func EncodeData(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// DecodeData parses 0x-prefixed hex produced by EncodeData.
// Empty data decodes to nil.
func DecodeData(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return b, nil
}
