package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/procharness/internal/config"
)

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	require.Error(t, err)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("verbose")
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	e, err := New(context.Background(), testConfig(config.HistoryFull))
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestEngine_Accessors(t *testing.T) {
	e, vc := newTestEngine(t)

	assert.Equal(t, "test", e.Name())
	assert.Equal(t, ":memory:", e.Config().Database)
	assert.Same(t, vc, e.Clock())
	assert.NotNil(t, e.Repository())
	assert.NotNil(t, e.Runtime())
	assert.NotNil(t, e.Tasks())
	assert.NotNil(t, e.History())
	assert.NotNil(t, e.Identity())
	assert.NotNil(t, e.Management())
	assert.NotNil(t, e.Forms())
}

func TestRuntime_StraightThroughEnds(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	deploy(t, e, map[string]string{"straight.process.yaml": straightDefinition})

	pi, err := e.Runtime().StartProcessInstanceByKey(ctx, "straight", "order-1", nil)
	require.NoError(t, err)

	active, err := e.Runtime().IsActive(ctx, pi.ID)
	require.NoError(t, err)
	assert.False(t, active)

	_, err = e.Runtime().ProcessInstance(ctx, pi.ID)
	assert.True(t, IsNotFound(err))

	hpi, err := e.History().HistoricProcessInstance(ctx, pi.ID)
	require.NoError(t, err)
	assert.True(t, hpi.Ended())
	assert.Equal(t, "end", hpi.EndActivityID)
	assert.Equal(t, "straight", hpi.DefinitionKey)
	assert.Equal(t, "order-1", hpi.BusinessKey)
	assert.Equal(t, fixedTime, hpi.StartTime)
	assert.Equal(t, time.Duration(0), hpi.Duration())
}

func TestRuntime_UnknownKey(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Runtime().StartProcessInstanceByKey(context.Background(), "missing", "", nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestRuntime_Variables(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	deploy(t, e, map[string]string{"invoice.process.yaml": invoiceDefinition})

	pi, err := e.Runtime().StartProcessInstanceByKey(ctx, "invoice", "", map[string]any{
		"amount":   250,
		"customer": "acme",
	})
	require.NoError(t, err)
	assert.Equal(t, "approve", pi.ActivityID)

	require.NoError(t, e.Runtime().SetVariable(ctx, pi.ID, "amount", 300))

	vars, err := e.Runtime().Variables(ctx, pi.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"amount":   int64(300),
		"customer": "acme",
		"approved": false,
	}, vars)

	err = e.Runtime().SetVariable(ctx, "nope", "x", 1)
	assert.True(t, IsNotFound(err))
}

func TestTasks_CompleteEndsInstanceAndCancelsBoundary(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	deploy(t, e, map[string]string{"invoice.process.yaml": invoiceDefinition})

	pi, err := e.Runtime().StartProcessInstanceByKey(ctx, "invoice", "", nil)
	require.NoError(t, err)

	tasks, err := e.Tasks().Tasks(ctx, pi.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, "approve", task.TaskDefinitionKey)
	assert.Equal(t, "forms/approve", task.FormKey)
	require.NotNil(t, task.DueAt)
	assert.Equal(t, fixedTime.Add(24*time.Hour), *task.DueAt)

	jobs, err := e.Management().Jobs(ctx, pi.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].Boundary)

	require.NoError(t, e.Tasks().Complete(ctx, task.ID, map[string]any{"approved": true}))

	active, err := e.Runtime().IsActive(ctx, pi.ID)
	require.NoError(t, err)
	assert.False(t, active)

	jobs, err = e.Management().Jobs(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, jobs)

	hpi, err := e.History().HistoricProcessInstance(ctx, pi.ID)
	require.NoError(t, err)
	assert.Equal(t, "done", hpi.EndActivityID)
}

func TestTasks_Claim(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	deploy(t, e, map[string]string{"invoice.process.yaml": invoiceDefinition})

	pi, err := e.Runtime().StartProcessInstanceByKey(ctx, "invoice", "", nil)
	require.NoError(t, err)
	tasks, err := e.Tasks().Tasks(ctx, pi.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	require.NoError(t, e.Tasks().Claim(ctx, tasks[0].ID, "kermit"))
	require.NoError(t, e.Tasks().Claim(ctx, tasks[0].ID, "kermit"))

	err = e.Tasks().Claim(ctx, tasks[0].ID, "gonzo")
	assert.True(t, IsIllegalState(err))

	task, err := e.Tasks().Task(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "kermit", task.Assignee)
}

func TestTasks_CompleteUnknown(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.Tasks().Complete(context.Background(), "missing", nil)
	assert.True(t, IsNotFound(err))
}

func TestManagement_TimerNotFiredUnderFixedTime(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	deploy(t, e, map[string]string{"reminder.process.yaml": reminderDefinition})

	pi, err := e.Runtime().StartProcessInstanceByKey(ctx, "reminder", "", nil)
	require.NoError(t, err)

	n, err := e.Management().ExecuteDueJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	active, err := e.Runtime().IsActive(ctx, pi.ID)
	require.NoError(t, err)
	assert.True(t, active)

	jobs, err := e.Management().Jobs(ctx, pi.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, fixedTime.Add(24*time.Hour), jobs[0].DueAt)
}

func TestManagement_TimerFiresAfterAdvance(t *testing.T) {
	ctx := context.Background()
	e, vc := newTestEngine(t)
	deploy(t, e, map[string]string{"reminder.process.yaml": reminderDefinition})

	pi, err := e.Runtime().StartProcessInstanceByKey(ctx, "reminder", "", nil)
	require.NoError(t, err)

	vc.Advance(24 * time.Hour)
	n, err := e.Management().ExecuteDueJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hpi, err := e.History().HistoricProcessInstance(ctx, pi.ID)
	require.NoError(t, err)
	require.True(t, hpi.Ended())
	assert.Equal(t, 24*time.Hour, hpi.Duration())
}

func TestManagement_BoundaryTimerInterruptsTask(t *testing.T) {
	ctx := context.Background()
	e, vc := newTestEngine(t)
	deploy(t, e, map[string]string{"invoice.process.yaml": invoiceDefinition})

	pi, err := e.Runtime().StartProcessInstanceByKey(ctx, "invoice", "", nil)
	require.NoError(t, err)

	vc.Advance(59 * time.Minute)
	n, err := e.Management().ExecuteDueJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	vc.Advance(time.Minute)
	n, err = e.Management().ExecuteDueJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks, err := e.Tasks().Tasks(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	hpi, err := e.History().HistoricProcessInstance(ctx, pi.ID)
	require.NoError(t, err)
	assert.Equal(t, "escalated", hpi.EndActivityID)
}

func TestManagement_ExecuteJob(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	deploy(t, e, map[string]string{"reminder.process.yaml": reminderDefinition})

	pi, err := e.Runtime().StartProcessInstanceByKey(ctx, "reminder", "", nil)
	require.NoError(t, err)
	jobs, err := e.Management().Jobs(ctx, pi.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, e.Management().ExecuteJob(ctx, jobs[0].ID))

	active, err := e.Runtime().IsActive(ctx, pi.ID)
	require.NoError(t, err)
	assert.False(t, active)

	err = e.Management().ExecuteJob(ctx, jobs[0].ID)
	assert.True(t, IsNotFound(err))
}

func TestJobExecutor_FiresOnTick(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(config.HistoryFull)
	cfg.JobExecutor = config.JobExecutor{Enabled: true, Interval: config.Duration(time.Second)}
	ticker := clockwork.NewFakeClock()

	e, vc := newTestEngineWithConfig(t, cfg, WithSchedulerClock(ticker))
	deploy(t, e, map[string]string{"reminder.process.yaml": reminderDefinition})

	pi, err := e.Runtime().StartProcessInstanceByKey(ctx, "reminder", "", nil)
	require.NoError(t, err)

	vc.Advance(25 * time.Hour)
	ticker.Advance(time.Second)

	assert.Eventually(t, func() bool {
		active, err := e.Runtime().IsActive(ctx, pi.ID)
		return err == nil && !active
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHistory_VariableLastValueWins(t *testing.T) {
	ctx := context.Background()
	e, vc := newTestEngine(t)
	deploy(t, e, map[string]string{"invoice.process.yaml": invoiceDefinition})

	pi, err := e.Runtime().StartProcessInstanceByKey(ctx, "invoice", "", map[string]any{"amount": 100})
	require.NoError(t, err)

	vc.Advance(time.Minute)
	require.NoError(t, e.Runtime().SetVariable(ctx, pi.ID, "amount", 200))

	tasks, err := e.Tasks().Tasks(ctx, pi.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NoError(t, e.Tasks().Complete(ctx, tasks[0].ID, map[string]any{"approved": true}))

	vars, err := e.History().HistoricVariableInstances(ctx, pi.ID)
	require.NoError(t, err)
	require.Len(t, vars, 2)

	assert.Equal(t, "amount", vars[0].VariableName)
	assert.Equal(t, "integer", vars[0].VariableTypeName)
	assert.Equal(t, int64(200), vars[0].Value)
	assert.Equal(t, pi.ID, vars[0].ProcessInstanceID)
	assert.Equal(t, fixedTime, vars[0].CreatedAt)
	assert.Equal(t, fixedTime.Add(time.Minute), vars[0].UpdatedAt)

	assert.Equal(t, "approved", vars[1].VariableName)
	assert.Equal(t, "boolean", vars[1].VariableTypeName)
	assert.Equal(t, true, vars[1].Value)
}

func TestHistory_Levels(t *testing.T) {
	tests := []struct {
		level         string
		wantInstances int
		wantVariables int
	}{
		{config.HistoryNone, 0, 0},
		{config.HistoryActivity, 1, 0},
		{config.HistoryAudit, 1, 1},
		{config.HistoryFull, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			ctx := context.Background()
			e, _ := newTestEngineWithConfig(t, testConfig(tt.level))
			deploy(t, e, map[string]string{"straight.process.yaml": straightDefinition})

			_, err := e.Runtime().StartProcessInstanceByKey(ctx, "straight", "", nil)
			require.NoError(t, err)

			hpis, err := e.History().HistoricProcessInstances(ctx, "straight")
			require.NoError(t, err)
			assert.Len(t, hpis, tt.wantInstances)

			vars, err := e.History().HistoricVariableInstances(ctx, "")
			require.NoError(t, err)
			assert.Len(t, vars, tt.wantVariables)
		})
	}
}

func TestIdentity_Users(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	require.NoError(t, e.Identity().CreateUser(ctx, User{ID: "kermit", FirstName: "Kermit", Email: "kermit@muppets.test"}))
	require.NoError(t, e.Identity().CreateUser(ctx, User{ID: "gonzo"}))
	require.Error(t, e.Identity().CreateUser(ctx, User{}))

	u, err := e.Identity().User(ctx, "kermit")
	require.NoError(t, err)
	assert.Equal(t, "Kermit", u.FirstName)

	users, err := e.Identity().Users(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, e.Identity().DeleteUser(ctx, "gonzo"))
	assert.True(t, IsNotFound(e.Identity().DeleteUser(ctx, "gonzo")))

	_, err = e.Identity().User(ctx, "gonzo")
	assert.True(t, IsNotFound(err))
}

func TestForms(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	deploy(t, e, map[string]string{"invoice.process.yaml": invoiceDefinition})

	key, err := e.Forms().StartFormKey(ctx, "invoice")
	require.NoError(t, err)
	assert.Equal(t, "forms/invoice-start", key)

	pi, err := e.Forms().SubmitStartForm(ctx, "invoice", "inv-7", map[string]any{"amount": 5})
	require.NoError(t, err)

	tasks, err := e.Tasks().Tasks(ctx, pi.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	key, err = e.Forms().TaskFormKey(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "forms/approve", key)

	require.NoError(t, e.Forms().SubmitTaskForm(ctx, tasks[0].ID, map[string]any{"approved": true}))
	active, err := e.Runtime().IsActive(ctx, pi.ID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestEngine_ConcurrentStarts(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	deploy(t, e, map[string]string{"invoice.process.yaml": invoiceDefinition})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Runtime().StartProcessInstanceByKey(ctx, "invoice", "", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	instances, err := e.Runtime().ProcessInstances(ctx)
	require.NoError(t, err)
	assert.Len(t, instances, 10)
}
