package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const reminderDefinition = `key: reminder
nodes:
  - id: start
    type: start
  - id: wait
    type: timer
    duration: P1D
  - id: end
    type: end
`

const reminderFires = `name: reminder_fires
description: The reminder fires after a day
resources:
  - reminder.process.yaml
steps:
  - action: set_time
    time: "2024-01-01T00:00:00Z"
  - action: start
    process: reminder
  - action: advance
    duration: P1D
  - action: execute_jobs
    expect: 1
assertions:
  - type: process_ended
    instance: reminder
`

const reminderNeverEnds = `name: reminder_never_ends
description: Without time passing the reminder is still waiting
resources:
  - reminder.process.yaml
steps:
  - action: start
    process: reminder
assertions:
  - type: process_ended
    instance: reminder
`

const memoryConfig = "database: \":memory:\"\nids: sequence\n"

// writeFiles writes name -> content under dir, creating parent directories.
func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// execute runs the root command with args and returns stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
