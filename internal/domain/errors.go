package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrAllocation = errors.New("sequence allocation failed")
	ErrStorage    = errors.New("storage failure")
)

// Error carries one of the sentinel kinds above together with a caller-facing
// message and, optionally, the underlying cause.
type Error struct {
	Kind    error
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// FieldErrors builds a validation error listing offending fields.
func FieldErrors(details map[string]string) *Error {
	return &Error{Kind: ErrValidation, Message: "invalid request", Details: details}
}

func NotFound(entity string, id string) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

func Allocation(err error) *Error {
	return &Error{Kind: ErrAllocation, Message: "could not allocate sale code", Err: err}
}

func Storage(op string, err error) *Error {
	return &Error{Kind: ErrStorage, Message: op, Err: err}
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAllocation)
}

// Details extracts field details from a validation error, if any.
func Details(err error) map[string]string {
	var de *Error
	if errors.As(err, &de) {
		return de.Details
	}
	return nil
}
