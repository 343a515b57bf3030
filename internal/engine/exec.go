package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/procharness/internal/config"
	"github.com/roach88/procharness/internal/process"
	"github.com/roach88/procharness/internal/store"
)

// definition returns the parsed definition for a stored row, parsing the
// deployment resource on first use. Caller must hold e.mu.
func (e *Engine) definition(ctx context.Context, tx *store.Tx, row *store.ProcessDefinition) (*process.Definition, error) {
	if def, ok := e.defs[row.ID]; ok {
		return def, nil
	}
	res, err := tx.Resource(ctx, row.DeploymentID, row.ResourceName)
	if err != nil {
		return nil, err
	}
	def, err := process.Parse(res.Name, res.Content)
	if err != nil {
		return nil, invalidResource(res.Name, err)
	}
	e.defs[row.ID] = def
	return def, nil
}

// instanceDefinition loads the definition an execution runs.
func (e *Engine) instanceDefinition(ctx context.Context, tx *store.Tx, exec *store.Execution) (*process.Definition, error) {
	row, err := tx.Definition(ctx, exec.DefinitionID)
	if err != nil {
		return nil, err
	}
	return e.definition(ctx, tx, row)
}

// advance executes nodes starting at node until the instance reaches a wait
// state or an end node. Caller must hold e.mu.
func (e *Engine) advance(ctx context.Context, tx *store.Tx, def *process.Definition, exec *store.Execution, node *process.Node) error {
	quota := NewQuotaEnforcer(e.maxSteps)

	for {
		if err := quota.Check(exec.ID); err != nil {
			return err
		}

		switch node.Type {
		case process.NodeStart:
			// pass through

		case process.NodeServiceTask:
			names := make([]string, 0, len(node.Set))
			for name := range node.Set {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if err := e.setVariable(ctx, tx, exec.ID, name, node.Set[name]); err != nil {
					return err
				}
			}

		case process.NodeUserTask:
			return e.enterUserTask(ctx, tx, exec, node)

		case process.NodeTimer:
			return e.enterTimer(ctx, tx, exec, node)

		case process.NodeEnd:
			return e.endInstance(ctx, tx, exec, node)

		default:
			return illegalState("node %q has unsupported type %q", node.ID, node.Type)
		}

		next, ok := def.Following(node.ID)
		if !ok {
			return illegalState("node %q of %q has no outgoing flow", node.ID, def.Key)
		}
		node = next
	}
}

func (e *Engine) enterUserTask(ctx context.Context, tx *store.Tx, exec *store.Execution, node *process.Node) error {
	now := e.clock.Now()

	task := store.Task{
		ID:                e.ids.Generate(),
		ProcessInstanceID: exec.ID,
		NodeID:            node.ID,
		Name:              node.Name,
		Assignee:          node.Assignee,
		FormKey:           node.FormKey,
		CreatedAt:         now,
	}
	if node.DueIn != "" {
		d, err := process.ParseDuration(node.DueIn)
		if err != nil {
			return invalidResource(node.ID, err)
		}
		due := now.Add(d)
		task.DueAt = &due
	}
	if err := tx.InsertTask(ctx, task); err != nil {
		return err
	}

	if node.Boundary != nil {
		d, err := process.ParseDuration(node.Boundary.Duration)
		if err != nil {
			return invalidResource(node.ID, err)
		}
		if err := tx.InsertJob(ctx, store.Job{
			ID:                e.ids.Generate(),
			ProcessInstanceID: exec.ID,
			NodeID:            node.ID,
			Kind:              store.JobBoundary,
			Target:            node.Boundary.Target,
			DueAt:             now.Add(d),
		}); err != nil {
			return err
		}
	}

	exec.NodeID = node.ID
	return tx.UpdateExecutionNode(ctx, exec.ID, node.ID)
}

func (e *Engine) enterTimer(ctx context.Context, tx *store.Tx, exec *store.Execution, node *process.Node) error {
	d, err := node.TimerDuration()
	if err != nil {
		return invalidResource(node.ID, err)
	}
	if err := tx.InsertJob(ctx, store.Job{
		ID:                e.ids.Generate(),
		ProcessInstanceID: exec.ID,
		NodeID:            node.ID,
		Kind:              store.JobTimer,
		DueAt:             e.clock.Now().Add(d),
	}); err != nil {
		return err
	}

	exec.NodeID = node.ID
	return tx.UpdateExecutionNode(ctx, exec.ID, node.ID)
}

func (e *Engine) endInstance(ctx context.Context, tx *store.Tx, exec *store.Execution, node *process.Node) error {
	if e.cfg.HistoryAtLeast(config.HistoryActivity) {
		if err := tx.EndHistoricProcessInstance(ctx, exec.ID, e.clock.Now(), node.ID); err != nil {
			return err
		}
	}
	if err := tx.DeleteExecution(ctx, exec.ID); err != nil {
		return err
	}
	e.logger.Info("process instance ended",
		"engine", e.name,
		"process_instance_id", exec.ID,
		"end_activity", node.ID,
	)
	return nil
}

// setVariable writes a runtime variable and, at history level audit or
// above, its historic counterpart.
func (e *Engine) setVariable(ctx context.Context, tx *store.Tx, processInstanceID, name string, value any) error {
	if name == "" {
		return fmt.Errorf("variable name is required")
	}
	typeName, text, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	if err := tx.UpsertVariable(ctx, store.Variable{
		ProcessInstanceID: processInstanceID,
		Name:              name,
		TypeName:          typeName,
		Value:             text,
	}); err != nil {
		return err
	}

	if !e.cfg.HistoryAtLeast(config.HistoryAudit) {
		return nil
	}
	now := e.clock.Now()
	return tx.UpsertHistoricVariable(ctx, store.HistoricVariable{
		ID:                e.ids.Generate(),
		ProcessInstanceID: processInstanceID,
		Name:              name,
		TypeName:          typeName,
		Value:             text,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
}

func (e *Engine) setVariables(ctx context.Context, tx *store.Tx, processInstanceID string, vars map[string]any) error {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := e.setVariable(ctx, tx, processInstanceID, name, vars[name]); err != nil {
			return err
		}
	}
	return nil
}

// fireJob executes one job. Timer jobs continue after their node; boundary
// jobs cancel the interrupted task and continue at the boundary target.
func (e *Engine) fireJob(ctx context.Context, tx *store.Tx, job *store.Job) error {
	exec, err := tx.Execution(ctx, job.ProcessInstanceID)
	if err != nil {
		return err
	}
	def, err := e.instanceDefinition(ctx, tx, exec)
	if err != nil {
		return err
	}

	if err := tx.DeleteJob(ctx, job.ID); err != nil {
		return err
	}

	var next *process.Node
	var ok bool
	switch job.Kind {
	case store.JobTimer:
		next, ok = def.Following(job.NodeID)
	case store.JobBoundary:
		if err := tx.DeleteTasksAtNode(ctx, exec.ID, job.NodeID); err != nil {
			return err
		}
		next, ok = def.Node(job.Target)
	default:
		return illegalState("job %s has unknown kind %q", job.ID, job.Kind)
	}
	if !ok {
		return illegalState("job %s: no node to continue at after %q", job.ID, job.NodeID)
	}

	e.logger.Info("job fired",
		"engine", e.name,
		"job_id", job.ID,
		"kind", job.Kind,
		"process_instance_id", exec.ID,
		"due_at", job.DueAt,
	)
	return e.advance(ctx, tx, def, exec, next)
}
