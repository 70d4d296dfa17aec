package testutil

import (
	"fmt"
	"sync"
)

// FixedFlowGenerator generates a deterministic sequence of flow tokens:
// "<prefix>-0001", "<prefix>-0002", ...
//
// The same scenario run with a fresh FixedFlowGenerator produces
// byte-identical event logs, which is what golden traces compare.
//
// Unlike engine.FixedGenerator, it never runs out.
//
// Thread-safety: FixedFlowGenerator is safe for concurrent use.
type FixedFlowGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedFlowGenerator creates a generator with the given prefix.
// If prefix is empty, "flow" is used.
func NewFixedFlowGenerator(prefix string) *FixedFlowGenerator {
	if prefix == "" {
		prefix = "flow"
	}
	return &FixedFlowGenerator{prefix: prefix}
}

// Generate returns the next token.
//
// Implements engine.FlowTokenGenerator interface.
func (g *FixedFlowGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
