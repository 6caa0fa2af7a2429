package metadata

import (
	"errors"
	"fmt"
)

// StoreError represents a domain error from metadata store and service operations.
//
// These are business logic errors (node not found, duplicate name, illegal
// move, etc.) as opposed to infrastructure errors (disk failure, database
// corruption), which are returned wrapped with fmt.Errorf.
//
// Outer layers (HTTP handlers, CLI) translate StoreError codes into their own
// status codes. Codes are stable; messages are not.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Key is the opaque key or name related to the error (if applicable)
	Key string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if e.Key != "" {
		msg = msg + ": " + e.Key
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a StoreError with the same code.
//
// This allows errors.Is(err, &StoreError{Code: ErrNotFound}) style matching
// regardless of message and key.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ErrorCode represents the category of a store error.
type ErrorCode int

const (
	// ErrNotFound indicates the referenced node, upload or member doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrConflict indicates a uniqueness violation
	// Examples: duplicate name under a parent, duplicate in-flight upload,
	// an edge inserted for a child that already has one
	ErrConflict

	// ErrValidation indicates a structurally illegal request
	// Examples: move into own subtree, moving or deleting a special container,
	// empty or malformed names
	ErrValidation

	// ErrIO indicates a blob or scratch storage failure
	// Not retried at this layer; the caller decides.
	ErrIO

	// ErrFatal indicates a broken invariant detected at runtime
	// Examples: more than one trash container for an owner, a cycle in the
	// edge table. These are never repaired silently.
	ErrFatal
)

// String returns the code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "NotFound"
	case ErrConflict:
		return "Conflict"
	case ErrValidation:
		return "Validation"
	case ErrIO:
		return "IO"
	case ErrFatal:
		return "Fatal"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// NewNotFoundError creates a not-found StoreError.
func NewNotFoundError(message, key string) *StoreError {
	return &StoreError{Code: ErrNotFound, Message: message, Key: key}
}

// NewConflictError creates a conflict StoreError.
func NewConflictError(message, key string) *StoreError {
	return &StoreError{Code: ErrConflict, Message: message, Key: key}
}

// NewValidationError creates a validation StoreError.
func NewValidationError(message, key string) *StoreError {
	return &StoreError{Code: ErrValidation, Message: message, Key: key}
}

// NewIOError creates an IO StoreError wrapping cause.
func NewIOError(message, key string, cause error) *StoreError {
	return &StoreError{Code: ErrIO, Message: message, Key: key, Err: cause}
}

// NewFatalError creates a fatal StoreError.
func NewFatalError(message, key string) *StoreError {
	return &StoreError{Code: ErrFatal, Message: message, Key: key}
}

// CodeOf extracts the ErrorCode from err.
//
// Returns ok=false if err does not wrap a StoreError.
func CodeOf(err error) (code ErrorCode, ok bool) {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Code, true
	}
	return 0, false
}

func hasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsNotFound reports whether err wraps an ErrNotFound StoreError.
func IsNotFound(err error) bool { return hasCode(err, ErrNotFound) }

// IsConflict reports whether err wraps an ErrConflict StoreError.
func IsConflict(err error) bool { return hasCode(err, ErrConflict) }

// IsValidation reports whether err wraps an ErrValidation StoreError.
func IsValidation(err error) bool { return hasCode(err, ErrValidation) }

// IsIO reports whether err wraps an ErrIO StoreError.
func IsIO(err error) bool { return hasCode(err, ErrIO) }

// IsFatal reports whether err wraps an ErrFatal StoreError.
func IsFatal(err error) bool { return hasCode(err, ErrFatal) }
