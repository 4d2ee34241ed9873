package errors

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure that callers can act on.
type Code string

const (
	CodeNotFound             Code = "not_found"
	CodeInvalidState         Code = "invalid_state"
	CodeNoSuitableResource   Code = "no_suitable_resource"
	CodeCapacityExceeded     Code = "capacity_exceeded"
	CodeHasActiveAllocations Code = "has_active_allocations"
	CodeAlreadyReleased      Code = "already_released"
	CodeTypeMismatch         Code = "type_mismatch"
)

// Error is an application error carrying a machine-readable code.
// It supports errors.Is/As and %w wrapping.
type Error struct {
	Code    Code
	Message string
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// Is matches two Errors by code, so sentinel-style comparisons work:
//
//	errors.Is(err, &Error{Code: CodeNotFound})
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates an error with the given code and formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error.
func Wrap(err error, code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// CodeOf extracts the code from an error chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Convenience constructors for the common cases.

func NotFound(kind, id string) *Error {
	return New(CodeNotFound, "%s %s not found", kind, id)
}

func InvalidState(format string, args ...interface{}) *Error {
	return New(CodeInvalidState, format, args...)
}

func NoSuitableResource(requesterID string) *Error {
	return New(CodeNoSuitableResource, "no suitable resource for requester %s", requesterID)
}

func CapacityExceeded(format string, args ...interface{}) *Error {
	return New(CodeCapacityExceeded, format, args...)
}

func HasActiveAllocations(resourceID string, count int) *Error {
	return New(CodeHasActiveAllocations, "resource %s has %d active allocations", resourceID, count)
}

func AlreadyReleased(allocationID string) *Error {
	return New(CodeAlreadyReleased, "allocation %s already released", allocationID)
}

func TypeMismatch(format string, args ...interface{}) *Error {
	return New(CodeTypeMismatch, format, args...)
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
