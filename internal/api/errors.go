package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/roach88/timelock/internal/engine"
)

type errorResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  *int64 `json:"request_id,omitempty"`
	EligibleAt string `json:"eligible_at,omitempty"`
}

// statusFor maps engine error codes to HTTP statuses.
func statusFor(code engine.ErrorCode) int {
	switch code {
	case engine.ErrCodeUnauthorized:
		return http.StatusForbidden
	case engine.ErrCodeNotFound:
		return http.StatusNotFound
	case engine.ErrCodeAlreadyExecuted, engine.ErrCodeAlreadyInitialized, engine.ErrCodeNotInitialized:
		return http.StatusConflict
	case engine.ErrCodeDelayNotElapsed:
		return http.StatusTooEarly
	case engine.ErrCodeDelayOutOfRange, engine.ErrCodeTooManyActions:
		return http.StatusBadRequest
	case engine.ErrCodeActionFailed, engine.ErrCodeDepthExceeded:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code, ok := engine.CodeOf(err)
	if !ok {
		s.log.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:    "INTERNAL",
			Message: "internal error",
		})
		return
	}

	resp := errorResponse{Code: string(code), Message: err.Error()}
	if e := asEngineError(err); e != nil {
		switch code {
		case engine.ErrCodeNotFound, engine.ErrCodeAlreadyExecuted, engine.ErrCodeDelayNotElapsed, engine.ErrCodeActionFailed:
			id := int64(e.RequestID)
			resp.RequestID = &id
		}
		if !e.EligibleAt.IsZero() {
			resp.EligibleAt = e.EligibleAt.Format(time.RFC3339)
		}
	}
	writeJSON(w, statusFor(code), resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: msg})
}

func asEngineError(err error) *engine.Error {
	var e *engine.Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
