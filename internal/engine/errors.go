package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/timelock/internal/ir"
)

// Error is returned for every rejected operation.
//
// A rejected operation changes nothing: no request, no counter advance,
// no delay update and no event.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// RequestID is set for errors about a specific request.
	RequestID uint64

	// Caller and Capability are set for UNAUTHORIZED.
	Caller     string
	Capability ir.Capability

	// EligibleAt is set for DELAY_NOT_ELAPSED.
	EligibleAt time.Time

	// Err is the underlying cause, if any (executor failures).
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeAlreadyExecuted indicates the request has already run.
	ErrCodeAlreadyExecuted ErrorCode = "ALREADY_EXECUTED"

	// ErrCodeUnauthorized indicates the caller lacks the required capability.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// ErrCodeNotFound indicates the request id was never allocated.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeAlreadyInitialized indicates Initialize ran before.
	ErrCodeAlreadyInitialized ErrorCode = "ALREADY_INITIALIZED"

	// ErrCodeNotInitialized indicates an operation ran before Initialize.
	ErrCodeNotInitialized ErrorCode = "NOT_INITIALIZED"

	// ErrCodeDelayNotElapsed indicates a normal-path execution came too early.
	ErrCodeDelayNotElapsed ErrorCode = "DELAY_NOT_ELAPSED"

	// ErrCodeDelayOutOfRange indicates a delay outside [0, MaxDelay].
	ErrCodeDelayOutOfRange ErrorCode = "DELAY_OUT_OF_RANGE"

	// ErrCodeTooManyActions indicates a batch wider than the failure bitmap.
	ErrCodeTooManyActions ErrorCode = "TOO_MANY_ACTIONS"

	// ErrCodeActionFailed indicates the executor failed the batch.
	ErrCodeActionFailed ErrorCode = "ACTION_FAILED"

	// ErrCodeDepthExceeded indicates too many nested transitions.
	ErrCodeDepthExceeded ErrorCode = "DEPTH_EXCEEDED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of an engine error anywhere in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

func hasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsAlreadyExecuted returns true if err is an ALREADY_EXECUTED error.
func IsAlreadyExecuted(err error) bool { return hasCode(err, ErrCodeAlreadyExecuted) }

// IsUnauthorized returns true if err is an UNAUTHORIZED error.
func IsUnauthorized(err error) bool { return hasCode(err, ErrCodeUnauthorized) }

// IsNotFound returns true if err is a NOT_FOUND error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsAlreadyInitialized returns true if err is an ALREADY_INITIALIZED error.
func IsAlreadyInitialized(err error) bool { return hasCode(err, ErrCodeAlreadyInitialized) }

// IsNotInitialized returns true if err is a NOT_INITIALIZED error.
func IsNotInitialized(err error) bool { return hasCode(err, ErrCodeNotInitialized) }

// IsDelayNotElapsed returns true if err is a DELAY_NOT_ELAPSED error.
func IsDelayNotElapsed(err error) bool { return hasCode(err, ErrCodeDelayNotElapsed) }

// IsDelayOutOfRange returns true if err is a DELAY_OUT_OF_RANGE error.
func IsDelayOutOfRange(err error) bool { return hasCode(err, ErrCodeDelayOutOfRange) }

// IsTooManyActions returns true if err is a TOO_MANY_ACTIONS error.
func IsTooManyActions(err error) bool { return hasCode(err, ErrCodeTooManyActions) }

// IsActionFailed returns true if err is an ACTION_FAILED error.
func IsActionFailed(err error) bool { return hasCode(err, ErrCodeActionFailed) }

// IsDepthExceeded returns true if err is a DEPTH_EXCEEDED error.
func IsDepthExceeded(err error) bool { return hasCode(err, ErrCodeDepthExceeded) }

func errAlreadyExecuted(id uint64) *Error {
	return &Error{
		Code:      ErrCodeAlreadyExecuted,
		Message:   fmt.Sprintf("request %d has already been executed", id),
		RequestID: id,
	}
}

func errUnauthorized(caller string, capability ir.Capability) *Error {
	return &Error{
		Code:       ErrCodeUnauthorized,
		Message:    fmt.Sprintf("caller %q lacks capability %s", caller, capability),
		Caller:     caller,
		Capability: capability,
	}
}

func errNotFound(id uint64) *Error {
	return &Error{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("request %d does not exist", id),
		RequestID: id,
	}
}

func errAlreadyInitialized() *Error {
	return &Error{
		Code:    ErrCodeAlreadyInitialized,
		Message: "registry is already initialized",
	}
}

func errNotInitialized() *Error {
	return &Error{
		Code:    ErrCodeNotInitialized,
		Message: "registry is not initialized",
	}
}

func errDelayNotElapsed(id uint64, eligibleAt time.Time) *Error {
	return &Error{
		Code:       ErrCodeDelayNotElapsed,
		Message:    fmt.Sprintf("request %d is not executable before %s", id, eligibleAt.Format(time.RFC3339)),
		RequestID:  id,
		EligibleAt: eligibleAt,
	}
}

func errDelayOutOfRange(d time.Duration) *Error {
	return &Error{
		Code:    ErrCodeDelayOutOfRange,
		Message: fmt.Sprintf("delay %s outside [0s, %s]", d, ir.MaxDelay),
	}
}

func errTooManyActions(n int) *Error {
	return &Error{
		Code:    ErrCodeTooManyActions,
		Message: fmt.Sprintf("batch has %d actions, limit is %d", n, ir.MaxActions),
	}
}

func errActionFailed(id uint64, cause error) *Error {
	return &Error{
		Code:      ErrCodeActionFailed,
		Message:   fmt.Sprintf("executing request %d failed", id),
		RequestID: id,
		Err:       cause,
	}
}
