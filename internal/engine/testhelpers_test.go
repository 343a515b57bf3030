package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/procharness/internal/clock"
	"github.com/roach88/procharness/internal/config"
)

var fixedTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const invoiceDefinition = `
key: invoice
name: Invoice approval
start_form_key: forms/invoice-start
nodes:
  - id: start
    type: start
  - id: enrich
    type: serviceTask
    set:
      approved: false
  - id: approve
    type: userTask
    name: Approve invoice
    form_key: forms/approve
    due_in: P1D
    boundary:
      duration: PT1H
      target: escalated
  - id: done
    type: end
  - id: escalated
    type: end
`

const reminderDefinition = `
key: reminder
nodes:
  - id: start
    type: start
  - id: wait
    type: timer
    duration: P1D
  - id: end
    type: end
`

const straightDefinition = `
key: straight
nodes:
  - id: start
    type: start
  - id: stamp
    type: serviceTask
    set:
      stamped: true
  - id: end
    type: end
`

func testConfig(history string) *config.Config {
	return &config.Config{
		Name:         "test",
		Database:     ":memory:",
		HistoryLevel: history,
		IDs:          "sequence",
		Resource:     "test.cfg.yaml",
	}
}

// newTestEngine builds an in-memory engine on a pinned virtual clock.
func newTestEngine(t *testing.T, opts ...Option) (*Engine, *clock.Virtual) {
	t.Helper()
	return newTestEngineWithConfig(t, testConfig(config.HistoryFull), opts...)
}

func newTestEngineWithConfig(t *testing.T, cfg *config.Config, opts ...Option) (*Engine, *clock.Virtual) {
	t.Helper()
	vc := clock.NewVirtual(nil)
	vc.SetCurrentTime(fixedTime)

	e, err := New(context.Background(), cfg, append([]Option{WithClock(vc)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, vc
}

func deploy(t *testing.T, e *Engine, resources map[string]string) string {
	t.Helper()
	raw := make(map[string][]byte, len(resources))
	for name, content := range resources {
		raw[name] = []byte(content)
	}
	id, err := e.Repository().Deploy(context.Background(), "test", raw)
	require.NoError(t, err)
	return id
}
