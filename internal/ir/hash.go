package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainActions = "timelock/actions/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00}) // Null separator - CRITICAL for security
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ActionsHash computes the content hash of an action batch together with
// its allow-failure mask. The store keeps it next to the batch and checks
// it on every read, so a batch that changed after creation is detected.
func ActionsHash(actions []Action, allowFailureMap Bitmap) (string, error) {
	obj := map[string]any{
		"actions":           actionsCanonical(actions),
		"allow_failure_map": allowFailureMap.String(),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ActionsHash: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainActions, canonical), nil
}

// MarshalActions returns the canonical JSON encoding of an action batch.
func MarshalActions(actions []Action) ([]byte, error) {
	return MarshalCanonical(actionsCanonical(actions))
}

// UnmarshalActions parses the output of MarshalActions.
func UnmarshalActions(data []byte) ([]Action, error) {
	wrapped := append(append([]byte(`{"actions":`), data...), '}')
	m, err := UnmarshalCanonical(wrapped)
	if err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	return actionsFromCanonical(m["actions"])
}
