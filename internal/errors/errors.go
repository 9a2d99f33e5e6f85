package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an Overseer error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrTerminal          ErrorCode = "TERMINAL"           // 409
	ErrBusy              ErrorCode = "BUSY"               // 409
	ErrMalformedResponse ErrorCode = "MALFORMED_RESPONSE" // 502
	ErrGateway           ErrorCode = "GATEWAY"            // 502
	ErrInternal          ErrorCode = "INTERNAL"           // 500
)

// OverseerError represents a structured error with code, status, and details.
type OverseerError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *OverseerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *OverseerError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *OverseerError {
	return &OverseerError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for an unknown stream or record.
func NewNotFound(identifier string) *OverseerError {
	return &OverseerError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewTerminal creates a 409 error when a simulation has reached its turn bound.
func NewTerminal(turnCount, maxTurns int) *OverseerError {
	return &OverseerError{
		Code:    ErrTerminal,
		Status:  409,
		Message: fmt.Sprintf("simulation finished: turn %d of %d", turnCount, maxTurns),
		Details: map[string]any{"turn_count": turnCount, "max_turns": maxTurns},
	}
}

// NewBusy creates a 409 error when a single-flight operation is already running.
func NewBusy(what string) *OverseerError {
	return &OverseerError{
		Code:    ErrBusy,
		Status:  409,
		Message: fmt.Sprintf("%s already in progress", what),
	}
}

// NewGateway creates a 502 error wrapping a reasoning gateway failure.
func NewGateway(err error) *OverseerError {
	msg := "gateway failure"
	if err != nil {
		msg = err.Error()
	}
	return &OverseerError{
		Code:    ErrGateway,
		Status:  502,
		Message: msg,
		cause:   err,
	}
}

// NewMalformedResponse creates a 502 error for a gateway reply that does not match its schema.
func NewMalformedResponse(msg string) *OverseerError {
	return &OverseerError{
		Code:    ErrMalformedResponse,
		Status:  502,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *OverseerError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &OverseerError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if err (or anything it wraps) is an OverseerError with the given code.
func Is(err error, code ErrorCode) bool {
	var oErr *OverseerError
	if stderrors.As(err, &oErr) {
		return oErr.Code == code
	}
	return false
}

// CodeOf returns the code of the OverseerError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var oErr *OverseerError
	if stderrors.As(err, &oErr) {
		return oErr.Code
	}
	return ErrInternal
}

// As is errors.As, re-exported so callers need a single errors import.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
