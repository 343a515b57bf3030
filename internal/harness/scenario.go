package harness

import (
	"bytes"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/procharness/internal/process"
)

// Scenario is a declarative process test.
type Scenario struct {
	// Name uniquely identifies this scenario within its suite. It is the
	// test method of the scenario's deployment.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Resources lists deployment resource paths. May be empty.
	Resources []string `yaml:"resources,omitempty"`

	// Steps drive the engine in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Which fields apply depends on Action.
type Step struct {
	Action string `yaml:"action"`

	// set_time
	Time string `yaml:"time,omitempty"`

	// advance
	Duration string `yaml:"duration,omitempty"`

	// start
	Process     string `yaml:"process,omitempty"`
	BusinessKey string `yaml:"business_key,omitempty"`
	As          string `yaml:"as,omitempty"`

	// complete_task, set_variable
	Instance string `yaml:"instance,omitempty"`
	Task     string `yaml:"task,omitempty"`
	Name     string `yaml:"name,omitempty"`
	Value    any    `yaml:"value,omitempty"`

	// start, complete_task
	Vars map[string]any `yaml:"vars,omitempty"`

	// execute_jobs: expected number of fired jobs.
	Expect *int `yaml:"expect,omitempty"`
}

// Step action constants.
const (
	ActionSetTime      = "set_time"
	ActionAdvance      = "advance"
	ActionStart        = "start"
	ActionCompleteTask = "complete_task"
	ActionExecuteJobs  = "execute_jobs"
	ActionSetVariable  = "set_variable"
)

// Assertion validates final engine state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "process_ended": instance is no longer active
	// - "process_active": instance is still active
	// - "task_active": instance has an open task with key Task
	// - "jobs_pending": instance has exactly Count pending jobs
	// - "historic_variable": variable Name was recorded with Value
	Type string `yaml:"type"`

	// Instance is the alias of the process instance.
	Instance string `yaml:"instance"`

	Task  string `yaml:"task,omitempty"`
	Count int    `yaml:"count,omitempty"`
	Name  string `yaml:"name,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// TypeName optionally checks the historic variable's type name.
	TypeName string `yaml:"type_name,omitempty"`
}

// Assertion type constants.
const (
	AssertTypeProcessEnded = "process_ended"
	AssertProcessActive    = "process_active"
	AssertTaskActive       = "task_active"
	AssertJobsPending      = "jobs_pending"
	AssertHistoricVariable = "historic_variable"
)

// LoadScenario reads and parses a scenario YAML file from fsys.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(fsys fs.FS, path string) (*Scenario, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	aliases := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, &step, aliases); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, aliases); err != nil {
			return err
		}
	}
	return nil
}

// validateStep validates a single step and records the aliases it defines.
func validateStep(index int, step *Step, aliases map[string]bool) error {
	requireInstance := func() error {
		if step.Instance == "" {
			return fmt.Errorf("steps[%d]: instance is required for %s", index, step.Action)
		}
		if !aliases[step.Instance] {
			return fmt.Errorf("steps[%d]: instance %q is not started by an earlier step", index, step.Instance)
		}
		return nil
	}

	switch step.Action {
	case ActionSetTime:
		if _, err := time.Parse(time.RFC3339, step.Time); err != nil {
			return fmt.Errorf("steps[%d]: time must be RFC 3339: %w", index, err)
		}
	case ActionAdvance:
		if _, err := process.ParseDuration(step.Duration); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	case ActionStart:
		if step.Process == "" {
			return fmt.Errorf("steps[%d]: process is required for start", index)
		}
		alias := step.As
		if alias == "" {
			alias = step.Process
		}
		aliases[alias] = true
	case ActionCompleteTask:
		if err := requireInstance(); err != nil {
			return err
		}
		if step.Task == "" {
			return fmt.Errorf("steps[%d]: task is required for complete_task", index)
		}
	case ActionExecuteJobs:
		if step.Expect != nil && *step.Expect < 0 {
			return fmt.Errorf("steps[%d]: expect must be non-negative", index)
		}
	case ActionSetVariable:
		if err := requireInstance(); err != nil {
			return err
		}
		if step.Name == "" {
			return fmt.Errorf("steps[%d]: name is required for set_variable", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, step.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, aliases map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Instance == "" {
		return fmt.Errorf("assertions[%d]: instance is required", index)
	}
	if !aliases[a.Instance] {
		return fmt.Errorf("assertions[%d]: instance %q is never started", index, a.Instance)
	}

	switch a.Type {
	case AssertTypeProcessEnded, AssertProcessActive:
	case AssertTaskActive:
		if a.Task == "" {
			return fmt.Errorf("assertions[%d]: task is required for task_active", index)
		}
	case AssertJobsPending:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for jobs_pending", index)
		}
	case AssertHistoricVariable:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for historic_variable", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
