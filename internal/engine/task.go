package engine

import (
	"context"
	"fmt"

	"github.com/roach88/procharness/internal/store"
)

// TaskService lists, claims and completes user tasks.
type TaskService struct {
	e *Engine
}

// Tasks lists open tasks of a process instance, or all open tasks when
// processInstanceID is empty.
func (s *TaskService) Tasks(ctx context.Context, processInstanceID string) ([]Task, error) {
	var out []Task
	err := s.e.query(ctx, func(tx *store.Tx) error {
		rows, err := tx.Tasks(ctx, processInstanceID)
		if err != nil {
			return err
		}
		for _, t := range rows {
			out = append(out, toTask(t))
		}
		return nil
	})
	return out, err
}

// Task returns one open task.
func (s *TaskService) Task(ctx context.Context, id string) (*Task, error) {
	var out *Task
	err := s.e.query(ctx, func(tx *store.Tx) error {
		t, err := tx.Task(ctx, id)
		if err != nil {
			return wrapNotFound(err)
		}
		task := toTask(*t)
		out = &task
		return nil
	})
	return out, err
}

// Claim assigns a task to userID. A task already assigned to someone else
// cannot be claimed.
func (s *TaskService) Claim(ctx context.Context, taskID, userID string) error {
	return s.e.command(ctx, func(tx *store.Tx) error {
		t, err := tx.Task(ctx, taskID)
		if err != nil {
			return wrapNotFound(err)
		}
		if t.Assignee != "" && t.Assignee != userID {
			return illegalState("task %s is already claimed by %s", taskID, t.Assignee)
		}
		return tx.UpdateTaskAssignee(ctx, taskID, userID)
	})
}

// Complete finishes a task, sets vars on its instance and continues the
// instance. A boundary timer on the task is cancelled.
func (s *TaskService) Complete(ctx context.Context, taskID string, vars map[string]any) error {
	e := s.e
	err := e.command(ctx, func(tx *store.Tx) error {
		t, err := tx.Task(ctx, taskID)
		if err != nil {
			return wrapNotFound(err)
		}
		exec, err := tx.Execution(ctx, t.ProcessInstanceID)
		if err != nil {
			return wrapNotFound(err)
		}
		def, err := e.instanceDefinition(ctx, tx, exec)
		if err != nil {
			return err
		}

		if err := tx.DeleteTasksAtNode(ctx, exec.ID, t.NodeID); err != nil {
			return err
		}
		if err := tx.DeleteJobsAtNode(ctx, exec.ID, t.NodeID); err != nil {
			return err
		}
		if err := e.setVariables(ctx, tx, exec.ID, vars); err != nil {
			return err
		}

		next, ok := def.Following(t.NodeID)
		if !ok {
			return illegalState("task node %q has no outgoing flow", t.NodeID)
		}
		return e.advance(ctx, tx, def, exec, next)
	})
	if err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}
	e.logger.Info("task completed", "engine", e.name, "task_id", taskID)
	return nil
}

func toTask(t store.Task) Task {
	return Task{
		ID:                t.ID,
		ProcessInstanceID: t.ProcessInstanceID,
		TaskDefinitionKey: t.NodeID,
		Name:              t.Name,
		Assignee:          t.Assignee,
		FormKey:           t.FormKey,
		CreatedAt:         t.CreatedAt,
		DueAt:             t.DueAt,
	}
}
