package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestOverseerError_Error(t *testing.T) {
	err := &OverseerError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "stream not found",
	}

	expected := "NOT_FOUND: stream not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("goal is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "goal is required" {
		t.Errorf("Message = %q, want %q", err.Message, "goal is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("01STREAM")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "01STREAM" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "01STREAM")
	}
}

func TestNewTerminal(t *testing.T) {
	err := NewTerminal(10, 10)

	if err.Code != ErrTerminal {
		t.Errorf("Code = %q, want %q", err.Code, ErrTerminal)
	}
	if err.Details["max_turns"] != 10 {
		t.Errorf("Details[max_turns] = %v, want 10", err.Details["max_turns"])
	}
}

func TestNewGateway_Unwraps(t *testing.T) {
	cause := fmt.Errorf("deadline exceeded")
	err := NewGateway(cause)

	if err.Code != ErrGateway {
		t.Errorf("Code = %q, want %q", err.Code, ErrGateway)
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestNewInternal_NilError(t *testing.T) {
	err := NewInternal(nil)

	if err.Message != "internal error" {
		t.Errorf("Message = %q, want %q", err.Message, "internal error")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching code", NewNotFound("x"), ErrNotFound, true},
		{"different code", NewNotFound("x"), ErrInternal, false},
		{"wrapped", fmt.Errorf("turn: %w", NewMalformedResponse("bad json")), ErrMalformedResponse, true},
		{"plain error", fmt.Errorf("boom"), ErrInternal, false},
		{"nil", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("wrap: %w", NewTerminal(10, 10))); got != ErrTerminal {
		t.Errorf("CodeOf() = %v, want %v", got, ErrTerminal)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != ErrInternal {
		t.Errorf("CodeOf() = %v, want %v", got, ErrInternal)
	}
}
