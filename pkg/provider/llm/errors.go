package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorCode classifies LLM failures so the orchestrator can translate them
// into outbound error messages without inspecting provider internals.
type ErrorCode string

const (
	// ErrCodeInvalidRequest marks a malformed or empty request.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	// ErrCodeIO marks transport-level failures reaching the backend.
	ErrCodeIO ErrorCode = "IO_ERROR"

	// ErrCodeLLM marks backend-reported generation failures.
	ErrCodeLLM ErrorCode = "LLM_ERROR"

	// ErrCodeEmptyResponse marks a completed request that produced no content.
	ErrCodeEmptyResponse ErrorCode = "EMPTY_RESPONSE"

	// ErrCodeProcessing marks failures in Kaiwa's own handling of a response.
	ErrCodeProcessing ErrorCode = "PROCESSING_ERROR"
)

// Error is a classified LLM failure.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with the given classification.
func NewError(code ErrorCode, err error) *Error {
	return &Error{Code: code, Err: err}
}

// Classify returns the ErrorCode for err. Already-classified errors keep
// their code; network failures map to IO_ERROR; context cancellation and
// everything unrecognised map to PROCESSING_ERROR.
func Classify(err error) ErrorCode {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ErrCodeIO
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeIO
	}
	// Provider SDKs report HTTP-level failures as plain errors; a crude
	// substring check keeps the adapter boundary dependency-free.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") {
		return ErrCodeIO
	}
	return ErrCodeProcessing
}
