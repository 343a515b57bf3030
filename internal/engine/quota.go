package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxSteps is the default maximum number of nodes one command may
// execute before reaching a wait state. It stops definitions whose Next
// links loop through service tasks forever.
const DefaultMaxSteps = 1000

// QuotaEnforcer counts node executions of one command and enforces a
// maximum.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the step counter and validates against the limit.
func (q *QuotaEnforcer) Check(processInstanceID string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			ProcessInstanceID: processInstanceID,
			Steps:             q.current,
			Limit:             q.maxSteps,
		}
	}
	return nil
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// StepsExceededError is returned when a command exceeds the max steps quota.
// The command's transaction is rolled back.
type StepsExceededError struct {
	ProcessInstanceID string
	Steps             int
	Limit             int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("process instance %s exceeded max steps quota: %d steps > %d limit",
		e.ProcessInstanceID, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
