package engine

import "fmt"

// DefaultMaxDepth is the default limit on nested transitions.
//
// An executor that keeps re-entering the engine (execute a request whose
// action creates and fast-executes another request, and so on) holds the
// outermost transaction open for the whole chain. The limit turns a
// runaway chain into a rejected nested call instead of an unbounded one.
const DefaultMaxDepth = 16

// WithMaxDepth sets the maximum nesting depth of reentrant transitions.
// The outermost transition has depth 0. Values below 0 are treated as 0,
// which disables reentrancy altogether.
func WithMaxDepth(maxDepth int) EngineOption {
	return func(e *Engine) {
		if maxDepth < 0 {
			maxDepth = 0
		}
		e.maxDepth = maxDepth
	}
}

// checkDepth validates a nested transition against the limit.
func (e *Engine) checkDepth(depth int) error {
	if depth > e.maxDepth {
		return &Error{
			Code:    ErrCodeDepthExceeded,
			Message: fmt.Sprintf("nested transition depth %d exceeds limit %d", depth, e.maxDepth),
		}
	}
	return nil
}
