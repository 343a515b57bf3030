package engine

import (
	"context"
	"fmt"

	"github.com/roach88/procharness/internal/config"
	"github.com/roach88/procharness/internal/store"
)

// RuntimeService starts process instances and reads runtime state.
type RuntimeService struct {
	e *Engine
}

// StartProcessInstanceByKey starts the latest version of the definition with
// key. The instance runs until its first wait state before this returns.
func (r *RuntimeService) StartProcessInstanceByKey(ctx context.Context, key, businessKey string, vars map[string]any) (*ProcessInstance, error) {
	e := r.e
	var out *ProcessInstance

	err := e.command(ctx, func(tx *store.Tx) error {
		row, err := tx.LatestDefinition(ctx, key)
		if err != nil {
			return wrapNotFound(err)
		}
		def, err := e.definition(ctx, tx, row)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		start := def.Start()
		exec := &store.Execution{
			ID:           e.ids.Generate(),
			DefinitionID: row.ID,
			BusinessKey:  businessKey,
			NodeID:       start.ID,
			StartedAt:    now,
		}
		if err := tx.InsertExecution(ctx, *exec); err != nil {
			return err
		}
		if e.cfg.HistoryAtLeast(config.HistoryActivity) {
			if err := tx.InsertHistoricProcessInstance(ctx, store.HistoricProcessInstance{
				ID:           exec.ID,
				DefinitionID: row.ID,
				BusinessKey:  businessKey,
				StartTime:    now,
			}); err != nil {
				return err
			}
		}
		if err := e.setVariables(ctx, tx, exec.ID, vars); err != nil {
			return err
		}

		if err := e.advance(ctx, tx, def, exec, start); err != nil {
			return err
		}
		out = &ProcessInstance{
			ID:           exec.ID,
			DefinitionID: exec.DefinitionID,
			BusinessKey:  exec.BusinessKey,
			ActivityID:   exec.NodeID,
			StartedAt:    exec.StartedAt,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("start process instance %q: %w", key, err)
	}

	e.logger.Info("process instance started",
		"engine", e.name,
		"process_instance_id", out.ID,
		"definition_key", key,
		"business_key", businessKey,
	)
	return out, nil
}

// ProcessInstance returns a running instance or a NOT_FOUND error once it
// has ended (or never existed).
func (r *RuntimeService) ProcessInstance(ctx context.Context, id string) (*ProcessInstance, error) {
	var out *ProcessInstance
	err := r.e.query(ctx, func(tx *store.Tx) error {
		exec, err := tx.Execution(ctx, id)
		if err != nil {
			return wrapNotFound(err)
		}
		out = toInstance(*exec)
		return nil
	})
	return out, err
}

// IsActive reports whether a process instance is still running.
func (r *RuntimeService) IsActive(ctx context.Context, id string) (bool, error) {
	_, err := r.ProcessInstance(ctx, id)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ProcessInstances lists running instances in start order.
func (r *RuntimeService) ProcessInstances(ctx context.Context) ([]ProcessInstance, error) {
	var out []ProcessInstance
	err := r.e.query(ctx, func(tx *store.Tx) error {
		rows, err := tx.Executions(ctx)
		if err != nil {
			return err
		}
		for _, exec := range rows {
			out = append(out, *toInstance(exec))
		}
		return nil
	})
	return out, err
}

// SetVariable sets a variable on a running instance.
func (r *RuntimeService) SetVariable(ctx context.Context, processInstanceID, name string, value any) error {
	e := r.e
	return e.command(ctx, func(tx *store.Tx) error {
		if _, err := tx.Execution(ctx, processInstanceID); err != nil {
			return wrapNotFound(err)
		}
		return e.setVariable(ctx, tx, processInstanceID, name, value)
	})
}

// Variables returns the variables of a running instance.
func (r *RuntimeService) Variables(ctx context.Context, processInstanceID string) (map[string]any, error) {
	out := make(map[string]any)
	err := r.e.query(ctx, func(tx *store.Tx) error {
		if _, err := tx.Execution(ctx, processInstanceID); err != nil {
			return wrapNotFound(err)
		}
		rows, err := tx.Variables(ctx, processInstanceID)
		if err != nil {
			return err
		}
		for _, v := range rows {
			val, err := decodeValue(v.TypeName, v.Value)
			if err != nil {
				return fmt.Errorf("variable %s: %w", v.Name, err)
			}
			out[v.Name] = val
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func toInstance(exec store.Execution) *ProcessInstance {
	return &ProcessInstance{
		ID:           exec.ID,
		DefinitionID: exec.DefinitionID,
		BusinessKey:  exec.BusinessKey,
		ActivityID:   exec.NodeID,
		StartedAt:    exec.StartedAt,
	}
}
