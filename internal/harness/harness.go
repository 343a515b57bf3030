package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/procharness/internal/clock"
	"github.com/roach88/procharness/internal/deployment"
	"github.com/roach88/procharness/internal/engine"
	"github.com/roach88/procharness/internal/process"
	"github.com/roach88/procharness/internal/registry"
	"github.com/roach88/procharness/internal/session"
)

// DefaultClass is the test class scenarios run under.
const DefaultClass = "Scenario"

// Runner executes scenarios, each in its own test session.
type Runner struct {
	session *session.Session
	regs    *deployment.Registrations
	class   string
	logger  *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*runnerConfig)

type runnerConfig struct {
	class       string
	logger      *slog.Logger
	sessionOpts []session.Option
}

// WithClass sets the test class scenarios are deployed under.
// Default: DefaultClass.
func WithClass(class string) RunnerOption {
	return func(c *runnerConfig) {
		c.class = class
	}
}

// WithLogger sets the logger for the runner and its session.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(c *runnerConfig) {
		c.logger = l
	}
}

// WithSessionOptions passes options to the underlying session, such as
// session.WithConfigResources.
func WithSessionOptions(opts ...session.Option) RunnerOption {
	return func(c *runnerConfig) {
		c.sessionOpts = append(c.sessionOpts, opts...)
	}
}

// NewRunner creates a Runner that deploys scenario resources from
// resources and resolves engines through reg. Engines built by reg must
// read clk.
func NewRunner(reg *registry.Registry, resources fs.FS, clk *clock.Virtual, opts ...RunnerOption) *Runner {
	cfg := runnerConfig{
		class:  DefaultClass,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	regs := deployment.NewRegistrations()
	scope := deployment.NewScope(resources, regs, deployment.WithLogger(cfg.logger))
	sessionOpts := append([]session.Option{session.WithLogger(cfg.logger)}, cfg.sessionOpts...)

	return &Runner{
		session: session.New(reg, scope, clk, sessionOpts...),
		regs:    regs,
		class:   cfg.class,
		logger:  cfg.logger,
	}
}

// Session returns the runner's session.
func (r *Runner) Session() *session.Session { return r.session }

// errStepFailed stops a scenario after its first failed step.
var errStepFailed = errors.New("step failed")

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Register the scenario's resources and begin a session
//  2. Execute steps in order, stopping at the first failure
//  3. Evaluate assertions
//  4. Tear down: cascade-delete the deployment and reset the clock
//
// A returned error means the scenario could not be run or torn down; step
// and assertion failures are reported in the Result.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	id := deployment.TestIdentity{Class: r.class, Method: sc.Name}
	r.regs.Method(id.Class, id.Method, sc.Resources...)

	result := NewResult()
	err := r.session.Run(ctx, id, func(tc *session.Context) error {
		for i, step := range sc.Steps {
			ev, err := r.executeStep(tc, i, step, result)
			if err != nil {
				result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Action, err))
				return errStepFailed
			}
			if pinned, ok := r.session.Clock().Current(); ok {
				ev.Time = pinned.UTC().Format(time.RFC3339)
			}
			result.AddTrace(ev)

			r.logger.Info("scenario step completed",
				"scenario", sc.Name,
				"step", i,
				"action", step.Action,
				"instance", ev.Instance,
				"activity", ev.Activity,
			)
		}

		for _, msg := range EvaluateAssertions(tc, result, sc.Assertions) {
			result.AddError(msg)
		}
		return collectHistory(tc, result)
	})

	var failure *session.Failure
	if errors.As(err, &failure) && errors.Is(failure.Body, errStepFailed) {
		if failure.Teardown != nil {
			return result, failure.Teardown
		}
		return result, nil
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

// executeStep runs one step and returns its trace event.
func (r *Runner) executeStep(tc *session.Context, index int, step Step, result *Result) (TraceEvent, error) {
	ctx := tc.Context()
	ev := TraceEvent{Step: index, Action: step.Action}

	switch step.Action {
	case ActionSetTime:
		t, err := time.Parse(time.RFC3339, step.Time)
		if err != nil {
			return ev, err
		}
		if err := tc.SetCurrentTime(t); err != nil {
			return ev, err
		}

	case ActionAdvance:
		d, err := process.ParseDuration(step.Duration)
		if err != nil {
			return ev, err
		}
		if _, err := tc.Advance(d); err != nil {
			return ev, err
		}

	case ActionStart:
		alias := step.As
		if alias == "" {
			alias = step.Process
		}
		pi, err := tc.Runtime().StartProcessInstanceByKey(ctx, step.Process, step.BusinessKey, step.Vars)
		if err != nil {
			return ev, err
		}
		result.Instances[alias] = pi.ID
		ev.Instance = alias

	case ActionCompleteTask:
		piID, err := instanceID(result, step.Instance)
		if err != nil {
			return ev, err
		}
		task, err := findTask(tc, piID, step.Task)
		if err != nil {
			return ev, err
		}
		if err := tc.Tasks().Complete(ctx, task.ID, step.Vars); err != nil {
			return ev, err
		}
		ev.Instance = step.Instance

	case ActionExecuteJobs:
		n, err := tc.Management().ExecuteDueJobs(ctx)
		if err != nil {
			return ev, err
		}
		if step.Expect != nil && n != *step.Expect {
			return ev, fmt.Errorf("expected %d jobs to fire, %d fired", *step.Expect, n)
		}
		ev.Fired = &n

	case ActionSetVariable:
		piID, err := instanceID(result, step.Instance)
		if err != nil {
			return ev, err
		}
		if err := tc.Runtime().SetVariable(ctx, piID, step.Name, step.Value); err != nil {
			return ev, err
		}
		ev.Instance = step.Instance

	default:
		return ev, fmt.Errorf("unknown action %q", step.Action)
	}

	if ev.Instance != "" {
		activity, err := currentActivity(tc, result.Instances[ev.Instance])
		if err != nil {
			return ev, err
		}
		ev.Activity = activity
	}
	return ev, nil
}

func instanceID(result *Result, alias string) (string, error) {
	id, ok := result.Instances[alias]
	if !ok {
		return "", fmt.Errorf("instance %q was never started", alias)
	}
	return id, nil
}

func findTask(tc *session.Context, processInstanceID, key string) (*engine.Task, error) {
	tasks, err := tc.Tasks().Tasks(tc.Context(), processInstanceID)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].TaskDefinitionKey == key {
			return &tasks[i], nil
		}
	}
	return nil, fmt.Errorf("no open task %q", key)
}

// currentActivity returns where an instance waits, or "ended".
func currentActivity(tc *session.Context, processInstanceID string) (string, error) {
	pi, err := tc.Runtime().ProcessInstance(tc.Context(), processInstanceID)
	if engine.IsNotFound(err) {
		return "ended", nil
	}
	if err != nil {
		return "", err
	}
	return pi.ActivityID, nil
}

// collectHistory records the history of every started instance.
func collectHistory(tc *session.Context, result *Result) error {
	aliases := make([]string, 0, len(result.Instances))
	for alias := range result.Instances {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	for _, alias := range aliases {
		id := result.Instances[alias]
		entry := InstanceHistory{Instance: alias}

		hpi, err := tc.History().HistoricProcessInstance(tc.Context(), id)
		switch {
		case engine.IsNotFound(err):
			// history level none
		case err != nil:
			return err
		default:
			entry.Ended = hpi.Ended()
			entry.EndActivity = hpi.EndActivityID
		}

		vars, err := tc.History().HistoricVariableInstances(tc.Context(), id)
		if err != nil {
			return err
		}
		if len(vars) > 0 {
			entry.Variables = make(map[string]any, len(vars))
			for _, v := range vars {
				entry.Variables[v.VariableName] = v.Value
			}
		}
		result.History = append(result.History, entry)
	}
	return nil
}
