package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/procharness/internal/store"
)

// Error represents a failed engine command.
//
// Error codes:
//   - NOT_FOUND: a referenced deployment, definition, instance, task or job
//     does not exist
//   - INVALID_RESOURCE: a deployment resource could not be parsed or validated
//   - ILLEGAL_STATE: the command conflicts with current runtime state
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Resource names the deployment resource involved, if any.
	Resource string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeInvalidResource ErrorCode = "INVALID_RESOURCE"
	ErrCodeIllegalState    ErrorCode = "ILLEGAL_STATE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is an engine or store not-found error.
func IsNotFound(err error) bool {
	var ee *Error
	if errors.As(err, &ee) && ee.Code == ErrCodeNotFound {
		return true
	}
	return errors.Is(err, store.ErrNotFound)
}

// IsInvalidResource reports whether err is an INVALID_RESOURCE error.
func IsInvalidResource(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Code == ErrCodeInvalidResource
}

// IsIllegalState reports whether err is an ILLEGAL_STATE error.
func IsIllegalState(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Code == ErrCodeIllegalState
}

func notFound(err error) *Error {
	return &Error{Code: ErrCodeNotFound, Message: "not found", Err: err}
}

func invalidResource(resource string, err error) *Error {
	return &Error{Code: ErrCodeInvalidResource, Message: "invalid deployment resource", Resource: resource, Err: err}
}

func illegalState(format string, args ...any) *Error {
	return &Error{Code: ErrCodeIllegalState, Message: fmt.Sprintf(format, args...)}
}

// wrapNotFound converts a store.ErrNotFound into an engine NOT_FOUND error
// and passes every other error through.
func wrapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(err)
	}
	return err
}
