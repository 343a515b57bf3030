package engine

import (
	"context"
	"fmt"

	"github.com/roach88/procharness/internal/store"
)

// HistoryService reads historic process instances and variables.
type HistoryService struct {
	e *Engine
}

// HistoricProcessInstance returns the history record of an instance.
func (h *HistoryService) HistoricProcessInstance(ctx context.Context, id string) (*HistoricProcessInstance, error) {
	var out *HistoricProcessInstance
	err := h.e.query(ctx, func(tx *store.Tx) error {
		row, err := tx.HistoricProcessInstance(ctx, id)
		if err != nil {
			return wrapNotFound(err)
		}
		hpi := toHistoricInstance(*row)
		out = &hpi
		return nil
	})
	return out, err
}

// HistoricProcessInstances lists history records, optionally filtered by
// definition key.
func (h *HistoryService) HistoricProcessInstances(ctx context.Context, definitionKey string) ([]HistoricProcessInstance, error) {
	var out []HistoricProcessInstance
	err := h.e.query(ctx, func(tx *store.Tx) error {
		rows, err := tx.HistoricProcessInstances(ctx, definitionKey)
		if err != nil {
			return err
		}
		for _, row := range rows {
			out = append(out, toHistoricInstance(row))
		}
		return nil
	})
	return out, err
}

// HistoricVariableInstances lists the last recorded value of every variable
// of a process instance (all instances when empty), ordered by instance and
// name.
func (h *HistoryService) HistoricVariableInstances(ctx context.Context, processInstanceID string) ([]HistoricVariableInstance, error) {
	var out []HistoricVariableInstance
	err := h.e.query(ctx, func(tx *store.Tx) error {
		rows, err := tx.HistoricVariables(ctx, processInstanceID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			val, err := decodeValue(row.TypeName, row.Value)
			if err != nil {
				return fmt.Errorf("historic variable %s: %w", row.Name, err)
			}
			out = append(out, HistoricVariableInstance{
				ID:                row.ID,
				VariableName:      row.Name,
				VariableTypeName:  row.TypeName,
				Value:             val,
				ProcessInstanceID: row.ProcessInstanceID,
				CreatedAt:         row.CreatedAt,
				UpdatedAt:         row.UpdatedAt,
			})
		}
		return nil
	})
	return out, err
}

func toHistoricInstance(row store.HistoricProcessInstance) HistoricProcessInstance {
	return HistoricProcessInstance{
		ID:            row.ID,
		DefinitionID:  row.DefinitionID,
		DefinitionKey: row.DefinitionKey,
		BusinessKey:   row.BusinessKey,
		StartTime:     row.StartTime,
		EndTime:       row.EndTime,
		EndActivityID: row.EndNodeID,
	}
}
