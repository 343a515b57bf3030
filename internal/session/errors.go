package session

import (
	"fmt"

	"github.com/roach88/procharness/internal/deployment"
)

// TeardownError reports a failure while tearing a test down. It is
// reported on its own when the body succeeded.
type TeardownError struct {
	TestID deployment.TestIdentity
	Err    error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown of %s: %v", e.TestID, e.Err)
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}

// Failure is a failed test body, with the teardown error appended when
// teardown failed as well.
type Failure struct {
	TestID   deployment.TestIdentity
	Body     error
	Teardown error
}

func (f *Failure) Error() string {
	if f.Teardown == nil {
		return fmt.Sprintf("%s: %v", f.TestID, f.Body)
	}
	return fmt.Sprintf("%s: %v (also: %v)", f.TestID, f.Body, f.Teardown)
}

// Unwrap exposes both the body and the teardown error to errors.Is/As.
func (f *Failure) Unwrap() []error {
	if f.Teardown == nil {
		return []error{f.Body}
	}
	return []error{f.Body, f.Teardown}
}

// PanicError is a panic recovered from a test body.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("test body panicked: %v", e.Value)
}
