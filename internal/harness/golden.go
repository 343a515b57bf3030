package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot captures what a scenario run produced, without generated ids,
// so it compares byte-for-byte across runs.
type Snapshot struct {
	Scenario string            `json:"scenario"`
	Pass     bool              `json:"pass"`
	Trace    []TraceEvent      `json:"trace"`
	History  []InstanceHistory `json:"history,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
}

// NewSnapshot builds the snapshot of a result.
func NewSnapshot(name string, result *Result) Snapshot {
	snap := Snapshot{
		Scenario: name,
		Pass:     result.Pass,
		Trace:    result.Trace,
		History:  result.History,
	}
	if len(result.Errors) > 0 {
		snap.Errors = result.Errors
	}
	return snap
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, runner *Runner, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := runner.Run(context.Background(), scenario)
	if err != nil {
		return result, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.AssertJson(t, scenarioName, NewSnapshot(scenarioName, result))
}
