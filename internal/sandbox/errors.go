package sandbox

import (
	"errors"
	"fmt"
)

// ErrorKind classifies invocation failures
type ErrorKind string

const (
	// NotImplemented signals the execution path has no backing engine
	NotImplemented ErrorKind = "not_implemented"
	// InvalidModule signals malformed or rejected module bytes
	InvalidModule ErrorKind = "invalid_module"
	// FunctionNotFound signals the name is absent from the export table
	FunctionNotFound ErrorKind = "function_not_found"
	// ArityMismatch signals an argument count mismatch
	ArityMismatch ErrorKind = "arity_mismatch"
	// TypeMismatch signals an argument of the wrong kind
	TypeMismatch ErrorKind = "type_mismatch"
	// ExecutionTrap signals a runtime fault inside the guest
	ExecutionTrap ErrorKind = "execution_trap"
	// ResourceExceeded signals a timeout or memory cap hit
	ResourceExceeded ErrorKind = "resource_exceeded"
	// Internal signals a fault in the host, not the guest
	Internal ErrorKind = "internal"
)

// Error is the structured failure returned by executors. Every failure
// crossing the Executor boundary is one of these; the boundary never
// panics and never returns an unclassified error.
type Error struct {
	ErrKind ErrorKind
	Message string
	cause   error
}

// Errorf creates a classified error
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{ErrKind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying cause
func WrapError(kind ErrorKind, cause error, message string) *Error {
	return &Error{ErrKind: kind, Message: message, cause: cause}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrKind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.ErrKind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same kind, so callers can test
// errors.Is(err, sandbox.Errorf(sandbox.ExecutionTrap, "")) style sentinels
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.ErrKind == te.ErrKind
}

// KindOf extracts the error kind, defaulting to Internal for errors
// that did not originate at the sandbox boundary
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.ErrKind
	}
	return Internal
}
