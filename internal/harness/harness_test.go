package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/procharness/internal/config"
)

func TestRun_InvoiceApproved(t *testing.T) {
	runner, _, vc := newTestRunner(t)

	sc := &Scenario{
		Name:        "approved",
		Description: "Approve the invoice",
		Resources:   []string{"processes/invoice.process.yaml"},
		Steps: []Step{
			{Action: ActionSetTime, Time: "2024-01-01T09:00:00Z"},
			{Action: ActionStart, Process: "invoice", As: "inv", Vars: map[string]any{"amount": 250}},
			{Action: ActionCompleteTask, Instance: "inv", Task: "approve", Vars: map[string]any{"approved": true}},
		},
		Assertions: []Assertion{
			{Type: AssertTypeProcessEnded, Instance: "inv"},
			{Type: AssertHistoricVariable, Instance: "inv", Name: "approved", Value: true, TypeName: "boolean"},
			{Type: AssertHistoricVariable, Instance: "inv", Name: "amount", Value: 250},
		},
	}

	result, err := runner.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 3)
	assert.Equal(t, "approve", result.Trace[1].Activity)
	assert.Equal(t, "ended", result.Trace[2].Activity)
	assert.Equal(t, "2024-01-01T09:00:00Z", result.Trace[2].Time)

	require.Len(t, result.History, 1)
	assert.Equal(t, "done", result.History[0].EndActivity)

	_, pinned := vc.Current()
	assert.False(t, pinned, "clock is reset after the scenario")
}

func TestRun_DeploymentRemovedAfterRun(t *testing.T) {
	runner, reg, _ := newTestRunner(t)

	sc := &Scenario{
		Name:        "leaves_nothing",
		Description: "A waiting instance is removed with its deployment",
		Resources:   []string{"processes/reminder.process.yaml"},
		Steps:       []Step{{Action: ActionStart, Process: "reminder"}},
		Assertions:  []Assertion{{Type: AssertJobsPending, Instance: "reminder", Count: 1}},
	}

	result, err := runner.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	h, ok := reg.Lookup(config.DefaultResource)
	require.True(t, ok)
	counts, err := h.Management().TableCounts(context.Background())
	require.NoError(t, err)
	for table, n := range counts {
		assert.Zero(t, n, "table %s", table)
	}
}

func TestRun_FailedAssertion(t *testing.T) {
	runner, _, _ := newTestRunner(t)

	sc := &Scenario{
		Name:        "still_waiting",
		Description: "A reminder without time passing has not ended",
		Resources:   []string{"processes/reminder.process.yaml"},
		Steps:       []Step{{Action: ActionStart, Process: "reminder"}},
		Assertions:  []Assertion{{Type: AssertTypeProcessEnded, Instance: "reminder"}},
	}

	result, err := runner.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: process_ended")
	assert.Contains(t, result.Errors[0], "Full trace:")
}

func TestRun_StepFailureStopsScenario(t *testing.T) {
	runner, _, _ := newTestRunner(t)

	sc := &Scenario{
		Name:        "no_such_task",
		Description: "Completing a task that is not open fails the step",
		Resources:   []string{"processes/reminder.process.yaml"},
		Steps: []Step{
			{Action: ActionStart, Process: "reminder"},
			{Action: ActionCompleteTask, Instance: "reminder", Task: "approve"},
			{Action: ActionExecuteJobs},
		},
		Assertions: []Assertion{{Type: AssertProcessActive, Instance: "reminder"}},
	}

	result, err := runner.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `steps[1] complete_task: no open task "approve"`)
	assert.Len(t, result.Trace, 1, "steps after the failure are not executed")
}

func TestRun_ExpectedJobCountMismatch(t *testing.T) {
	runner, _, _ := newTestRunner(t)

	sc := &Scenario{
		Name:        "fires_too_early",
		Description: "A daily timer is not due after an hour",
		Resources:   []string{"processes/reminder.process.yaml"},
		Steps: []Step{
			{Action: ActionSetTime, Time: "2024-01-01T00:00:00Z"},
			{Action: ActionStart, Process: "reminder"},
			{Action: ActionAdvance, Duration: "PT1H"},
			{Action: ActionExecuteJobs, Expect: intPtr(1)},
		},
		Assertions: []Assertion{{Type: AssertTypeProcessEnded, Instance: "reminder"}},
	}

	result, err := runner.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected 1 jobs to fire, 0 fired")
}

func TestRun_SetVariableAndTaskActive(t *testing.T) {
	runner, _, _ := newTestRunner(t)

	sc := &Scenario{
		Name:        "annotate",
		Description: "Variables set on a waiting instance are recorded",
		Resources:   []string{"processes/invoice.process.yaml"},
		Steps: []Step{
			{Action: ActionStart, Process: "invoice", As: "inv"},
			{Action: ActionSetVariable, Instance: "inv", Name: "note", Value: "urgent"},
		},
		Assertions: []Assertion{
			{Type: AssertTaskActive, Instance: "inv", Task: "approve"},
			{Type: AssertHistoricVariable, Instance: "inv", Name: "note", Value: "urgent", TypeName: "string"},
			{Type: AssertHistoricVariable, Instance: "inv", Name: "approved", Value: false},
		},
	}

	result, err := runner.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	for _, ev := range result.Trace {
		assert.Empty(t, ev.Time, "time is only recorded while pinned")
	}
}

func TestRun_MissingResourceIsRunError(t *testing.T) {
	runner, _, vc := newTestRunner(t)

	sc := &Scenario{
		Name:        "missing",
		Description: "Resources must exist",
		Resources:   []string{"processes/nope.process.yaml"},
		Steps:       []Step{{Action: ActionStart, Process: "nope"}},
		Assertions:  []Assertion{{Type: AssertTypeProcessEnded, Instance: "nope"}},
	}

	_, err := runner.Run(context.Background(), sc)
	require.Error(t, err)

	// The lease is released: the clock can be taken without waiting.
	release, err := vc.Lease(context.Background(), 0)
	require.NoError(t, err, "clock lease was not released")
	release()
}

func TestRun_SameNameTwice(t *testing.T) {
	runner, _, _ := newTestRunner(t)

	sc := &Scenario{
		Name:        "twice",
		Description: "Each run deploys afresh",
		Resources:   []string{"processes/invoice.process.yaml"},
		Steps:       []Step{{Action: ActionStart, Process: "invoice", As: "inv"}},
		Assertions:  []Assertion{{Type: AssertTaskActive, Instance: "inv", Task: "approve"}},
	}

	for i := 0; i < 2; i++ {
		result, err := runner.Run(context.Background(), sc)
		require.NoError(t, err)
		assert.True(t, result.Pass, "run %d: %v", i, result.Errors)
	}
}
