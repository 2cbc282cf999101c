package errors

import (
	"fmt"

	crdb "github.com/cockroachdb/errors"
)

// UnsupportedError reports guest code the recompiler cannot translate.
// It aborts the current function only; callers fall back to interpretation.
type UnsupportedError struct {
	Address uint32
	Opcode  uint32
	Message string
	Cause   error
}

func (e *UnsupportedError) Error() string {
	msg := fmt.Sprintf("unsupported at 0x%08x (opcode 0x%08x): %s", e.Address, e.Opcode, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *UnsupportedError) Unwrap() error {
	return e.Cause
}

// InvariantError reports a broken internal assumption of the compiler.
// The function must not be emitted when one is raised.
type InvariantError struct {
	Message string
	Cause   error
}

func (e *InvariantError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("invariant violated: %s: %v", e.Message, e.Cause)
	}
	return "invariant violated: " + e.Message
}

func (e *InvariantError) Unwrap() error {
	return e.Cause
}

// IsUnsupported checks if an error is, or wraps, an unsupported error
func IsUnsupported(err error) bool {
	var target *UnsupportedError
	return crdb.As(err, &target)
}

// IsInvariant checks if an error is, or wraps, an invariant error
func IsInvariant(err error) bool {
	var target *InvariantError
	return crdb.As(err, &target)
}

// AsUnsupported extracts the unsupported error from an error chain
func AsUnsupported(err error) (*UnsupportedError, bool) {
	var target *UnsupportedError
	if crdb.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Unsupportedf creates a new unsupported error with formatted message
func Unsupportedf(address, opcode uint32, format string, args ...interface{}) *UnsupportedError {
	return &UnsupportedError{
		Address: address,
		Opcode:  opcode,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapUnsupported wraps an existing error as an unsupported error
func WrapUnsupported(err error, address uint32, message string) *UnsupportedError {
	return &UnsupportedError{
		Address: address,
		Message: message,
		Cause:   err,
	}
}

// Invariantf creates a new invariant error. The cause carries a stack trace.
func Invariantf(format string, args ...interface{}) *InvariantError {
	msg := fmt.Sprintf(format, args...)
	return &InvariantError{
		Message: msg,
		Cause:   crdb.AssertionFailedf("%s", msg),
	}
}

// WrapInvariant wraps an existing error as an invariant error
func WrapInvariant(err error, message string) *InvariantError {
	return &InvariantError{
		Message: message,
		Cause:   err,
	}
}

// Wrapf annotates err with context, preserving its classification.
func Wrapf(err error, format string, args ...interface{}) error {
	return crdb.Wrapf(err, format, args...)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return crdb.Is(err, target)
}
