package reqlib

import (
	"errors"
	"fmt"
)

var (
	ErrNilRequest            = errors.New("request is nil")
	ErrRequestAlreadyTracked = errors.New("request is already being processed")
	ErrRequestNotTracked     = errors.New("request is not tracked by this manager")
	ErrManagerClosed         = errors.New("manager has been shut down")
	ErrNoTransportFactory    = errors.New("no transport factory configured")
)

// TransportError is a structured error from a Transport.
// Use errors.As to extract and inspect it.
type TransportError struct {
	// Op is the operation that failed (e.g., "start", "dial", "read body").
	Op string
	// Cause is the underlying error.
	Cause error
	// Reason is the classified failure.
	Reason FailureReason
}

// Error implements the error interface.
// Format: "op (reason): cause"
func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s", e.Op, e.Reason, e.Cause.Error())
	}
	return fmt.Sprintf("%s (%s)", e.Op, e.Reason)
}

// Unwrap returns the underlying cause, enabling errors.Is/As chaining.
func (e *TransportError) Unwrap() error {
	return e.Cause
}
