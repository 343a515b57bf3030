package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/procharness/internal/session"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Instance string       // Alias of the instance checked
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s (instance %s)\n", e.Type, e.Instance)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s", event.Step, event.Action)
		if event.Instance != "" {
			fmt.Fprintf(&buf, " %s -> %s", event.Instance, event.Activity)
		}
		if event.Time != "" {
			fmt.Fprintf(&buf, " @ %s", event.Time)
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

func assertProcessEnded(tc *session.Context, id string, a Assertion, trace []TraceEvent) error {
	if err := tc.AssertProcessEnded(id); err != nil {
		return &AssertionError{
			Type:     a.Type,
			Instance: a.Instance,
			Expected: "process instance ended",
			Actual:   err.Error(),
			Trace:    trace,
		}
	}
	return nil
}

func assertProcessActive(tc *session.Context, id string, a Assertion, trace []TraceEvent) error {
	active, err := tc.Runtime().IsActive(tc.Context(), id)
	if err != nil {
		return err
	}
	if !active {
		return &AssertionError{
			Type:     a.Type,
			Instance: a.Instance,
			Expected: "process instance active",
			Actual:   "process instance ended",
			Trace:    trace,
		}
	}
	return nil
}

func assertTaskActive(tc *session.Context, id string, a Assertion, trace []TraceEvent) error {
	tasks, err := tc.Tasks().Tasks(tc.Context(), id)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if task.TaskDefinitionKey == a.Task {
			return nil
		}
		keys = append(keys, task.TaskDefinitionKey)
	}
	return &AssertionError{
		Type:     a.Type,
		Instance: a.Instance,
		Expected: fmt.Sprintf("open task %s", a.Task),
		Actual:   fmt.Sprintf("open tasks %v", keys),
		Trace:    trace,
	}
}

func assertJobsPending(tc *session.Context, id string, a Assertion, trace []TraceEvent) error {
	jobs, err := tc.Management().Jobs(tc.Context(), id)
	if err != nil {
		return err
	}
	if len(jobs) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Instance: a.Instance,
			Expected: fmt.Sprintf("%d pending jobs", a.Count),
			Actual:   fmt.Sprintf("%d pending jobs", len(jobs)),
			Trace:    trace,
		}
	}
	return nil
}

func assertHistoricVariable(tc *session.Context, id string, a Assertion, trace []TraceEvent) error {
	vars, err := tc.History().HistoricVariableInstances(tc.Context(), id)
	if err != nil {
		return err
	}
	for _, v := range vars {
		if v.VariableName != a.Name {
			continue
		}
		if a.TypeName != "" && v.VariableTypeName != a.TypeName {
			return &AssertionError{
				Type:     a.Type,
				Instance: a.Instance,
				Expected: fmt.Sprintf("%s of type %s", a.Name, a.TypeName),
				Actual:   fmt.Sprintf("type %s", v.VariableTypeName),
				Trace:    trace,
			}
		}
		if !valuesEqual(v.Value, a.Value) {
			return &AssertionError{
				Type:     a.Type,
				Instance: a.Instance,
				Expected: fmt.Sprintf("%s = %v", a.Name, a.Value),
				Actual:   fmt.Sprintf("%s = %v", a.Name, v.Value),
				Trace:    trace,
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Instance: a.Instance,
		Expected: fmt.Sprintf("historic variable %s", a.Name),
		Actual:   "not recorded",
		Trace:    trace,
	}
}

// valuesEqual compares a value read from the engine with one parsed from
// YAML. Numbers compare by value regardless of Go type; nested maps and
// slices compare element-wise.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	if a, ok := toFloat(actual); ok {
		e, ok := toFloat(expected)
		return ok && a == e
	}

	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for k, v := range exp {
			if !valuesEqual(act[k], v) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !valuesEqual(act[i], exp[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(actual, expected)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// EvaluateAssertions evaluates all assertions against the session's engine.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(tc *session.Context, result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		id, ok := result.Instances[assertion.Instance]
		if !ok {
			errors = append(errors, fmt.Sprintf("assertion[%d]: instance %q was never started", i, assertion.Instance))
			continue
		}

		var err error
		switch assertion.Type {
		case AssertTypeProcessEnded:
			err = assertProcessEnded(tc, id, assertion, result.Trace)
		case AssertProcessActive:
			err = assertProcessActive(tc, id, assertion, result.Trace)
		case AssertTaskActive:
			err = assertTaskActive(tc, id, assertion, result.Trace)
		case AssertJobsPending:
			err = assertJobsPending(tc, id, assertion, result.Trace)
		case AssertHistoricVariable:
			err = assertHistoricVariable(tc, id, assertion, result.Trace)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
