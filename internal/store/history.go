package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (t *Tx) InsertHistoricProcessInstance(ctx context.Context, h HistoricProcessInstance) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO historic_process_instances (id, definition_id, business_key, start_time)
		VALUES (?, ?, ?, ?)
	`, h.ID, h.DefinitionID, h.BusinessKey, toMillis(h.StartTime))
	if err != nil {
		return fmt.Errorf("insert historic process instance: %w", err)
	}
	return nil
}

// EndHistoricProcessInstance stamps the end time and end node of an
// instance. It is a no-op when the instance has no history row.
func (t *Tx) EndHistoricProcessInstance(ctx context.Context, id string, end time.Time, endNodeID string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE historic_process_instances SET end_time = ?, end_node_id = ?
		WHERE id = ?
	`, toMillis(end), endNodeID, id)
	if err != nil {
		return fmt.Errorf("end historic process instance: %w", err)
	}
	return nil
}

const historicInstanceQuery = `
	SELECT h.id, h.definition_id, d.key, h.business_key, h.start_time, h.end_time, h.end_node_id
	FROM historic_process_instances h
	JOIN process_definitions d ON d.id = h.definition_id`

func scanHistoricInstance(row interface{ Scan(...any) error }) (HistoricProcessInstance, error) {
	var h HistoricProcessInstance
	var start int64
	var end sql.NullInt64
	err := row.Scan(&h.ID, &h.DefinitionID, &h.DefinitionKey, &h.BusinessKey, &start, &end, &h.EndNodeID)
	h.StartTime = fromMillis(start)
	h.EndTime = fromNullMillis(end)
	return h, err
}

func (t *Tx) HistoricProcessInstance(ctx context.Context, id string) (*HistoricProcessInstance, error) {
	h, err := scanHistoricInstance(t.tx.QueryRowContext(ctx, historicInstanceQuery+` WHERE h.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("historic process instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query historic process instance: %w", err)
	}
	return &h, nil
}

// HistoricProcessInstances lists history rows, optionally filtered by
// definition key.
func (t *Tx) HistoricProcessInstances(ctx context.Context, definitionKey string) ([]HistoricProcessInstance, error) {
	rows, err := t.tx.QueryContext(ctx,
		historicInstanceQuery+` WHERE ? = '' OR d.key = ? ORDER BY h.start_time, h.id`,
		definitionKey, definitionKey)
	if err != nil {
		return nil, fmt.Errorf("query historic process instances: %w", err)
	}
	defer rows.Close()

	var out []HistoricProcessInstance
	for rows.Next() {
		h, err := scanHistoricInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan historic process instance: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// UpsertHistoricVariable records the latest value of a variable. The row id
// and creation time are kept from the first write.
func (t *Tx) UpsertHistoricVariable(ctx context.Context, v HistoricVariable) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO historic_variable_instances
		(id, process_instance_id, name, type_name, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(process_instance_id, name) DO UPDATE SET
			type_name = excluded.type_name,
			value = excluded.value,
			updated_at = excluded.updated_at
	`, v.ID, v.ProcessInstanceID, v.Name, v.TypeName, v.Value,
		toMillis(v.CreatedAt), toMillis(v.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert historic variable %s: %w", v.Name, err)
	}
	return nil
}

// HistoricVariables lists historic variables of one instance, or all when
// processInstanceID is empty.
func (t *Tx) HistoricVariables(ctx context.Context, processInstanceID string) ([]HistoricVariable, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, process_instance_id, name, type_name, value, created_at, updated_at
		FROM historic_variable_instances
		WHERE ? = '' OR process_instance_id = ?
		ORDER BY process_instance_id, name
	`, processInstanceID, processInstanceID)
	if err != nil {
		return nil, fmt.Errorf("query historic variables: %w", err)
	}
	defer rows.Close()

	var out []HistoricVariable
	for rows.Next() {
		var v HistoricVariable
		var created, updated int64
		if err := rows.Scan(&v.ID, &v.ProcessInstanceID, &v.Name, &v.TypeName, &v.Value, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan historic variable: %w", err)
		}
		v.CreatedAt = fromMillis(created)
		v.UpdatedAt = fromMillis(updated)
		out = append(out, v)
	}
	return out, rows.Err()
}

// countedTables are reported by TableCounts.
var countedTables = []string{
	"deployments",
	"resources",
	"process_definitions",
	"executions",
	"variables",
	"tasks",
	"jobs",
	"historic_process_instances",
	"historic_variable_instances",
	"users",
}

// TableCounts returns the row count of every engine table.
func (t *Tx) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(countedTables))
	for _, table := range countedTables {
		var n int64
		if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
