package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Tx exposes typed row operations inside one transaction.
// Obtain one through Store.Update or Store.View.
type Tx struct {
	tx *sql.Tx
}

// --- deployments and resources ---

func (t *Tx) InsertDeployment(ctx context.Context, d Deployment) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO deployments (id, name, deployed_at) VALUES (?, ?, ?)`,
		d.ID, d.Name, toMillis(d.DeployedAt))
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

func (t *Tx) Deployment(ctx context.Context, id string) (*Deployment, error) {
	var d Deployment
	var deployedAt int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name, deployed_at FROM deployments WHERE id = ?`, id,
	).Scan(&d.ID, &d.Name, &deployedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query deployment: %w", err)
	}
	d.DeployedAt = fromMillis(deployedAt)
	return &d, nil
}

func (t *Tx) Deployments(ctx context.Context) ([]Deployment, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, name, deployed_at FROM deployments ORDER BY deployed_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		var d Deployment
		var deployedAt int64
		if err := rows.Scan(&d.ID, &d.Name, &deployedAt); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		d.DeployedAt = fromMillis(deployedAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDeployment deletes a deployment and, through foreign-key cascades,
// everything it produced. Returns false if no such deployment existed.
func (t *Tx) DeleteDeployment(ctx context.Context, id string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM deployments WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete deployment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete deployment: %w", err)
	}
	return n > 0, nil
}

func (t *Tx) InsertResource(ctx context.Context, r Resource) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO resources (deployment_id, name, content) VALUES (?, ?, ?)`,
		r.DeploymentID, r.Name, r.Content)
	if err != nil {
		return fmt.Errorf("insert resource %s: %w", r.Name, err)
	}
	return nil
}

func (t *Tx) Resource(ctx context.Context, deploymentID, name string) (*Resource, error) {
	r := Resource{DeploymentID: deploymentID, Name: name}
	err := t.tx.QueryRowContext(ctx,
		`SELECT content FROM resources WHERE deployment_id = ? AND name = ?`,
		deploymentID, name,
	).Scan(&r.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource %s in deployment %s: %w", name, deploymentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query resource: %w", err)
	}
	return &r, nil
}

// ResourceNames lists the resource names of a deployment in name order.
func (t *Tx) ResourceNames(ctx context.Context, deploymentID string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT name FROM resources WHERE deployment_id = ? ORDER BY name`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("query resources: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// --- process definitions ---

// NextDefinitionVersion returns the version a new definition with key gets.
func (t *Tx) NextDefinitionVersion(ctx context.Context, key string) (int, error) {
	var max sql.NullInt64
	if err := t.tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM process_definitions WHERE key = ?`, key,
	).Scan(&max); err != nil {
		return 0, fmt.Errorf("query definition version: %w", err)
	}
	return int(max.Int64) + 1, nil
}

func (t *Tx) InsertDefinition(ctx context.Context, d ProcessDefinition) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO process_definitions
		(id, key, name, version, deployment_id, resource_name, start_form_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.Key, d.Name, d.Version, d.DeploymentID, d.ResourceName, d.StartFormKey)
	if err != nil {
		return fmt.Errorf("insert definition %s: %w", d.Key, err)
	}
	return nil
}

const definitionColumns = `id, key, name, version, deployment_id, resource_name, start_form_key`

func scanDefinition(row interface{ Scan(...any) error }) (ProcessDefinition, error) {
	var d ProcessDefinition
	err := row.Scan(&d.ID, &d.Key, &d.Name, &d.Version, &d.DeploymentID, &d.ResourceName, &d.StartFormKey)
	return d, err
}

func (t *Tx) Definition(ctx context.Context, id string) (*ProcessDefinition, error) {
	d, err := scanDefinition(t.tx.QueryRowContext(ctx,
		`SELECT `+definitionColumns+` FROM process_definitions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("process definition %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query definition: %w", err)
	}
	return &d, nil
}

// LatestDefinition returns the highest version deployed for key.
func (t *Tx) LatestDefinition(ctx context.Context, key string) (*ProcessDefinition, error) {
	d, err := scanDefinition(t.tx.QueryRowContext(ctx,
		`SELECT `+definitionColumns+` FROM process_definitions
		 WHERE key = ? ORDER BY version DESC LIMIT 1`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("process definition with key %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query definition: %w", err)
	}
	return &d, nil
}

func (t *Tx) Definitions(ctx context.Context) ([]ProcessDefinition, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+definitionColumns+` FROM process_definitions ORDER BY key, version`)
	if err != nil {
		return nil, fmt.Errorf("query definitions: %w", err)
	}
	defer rows.Close()

	var out []ProcessDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- executions and variables ---

func (t *Tx) InsertExecution(ctx context.Context, e Execution) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO executions (id, definition_id, business_key, node_id, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.DefinitionID, e.BusinessKey, e.NodeID, toMillis(e.StartedAt))
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

const executionColumns = `id, definition_id, business_key, node_id, started_at`

func scanExecution(row interface{ Scan(...any) error }) (Execution, error) {
	var e Execution
	var startedAt int64
	err := row.Scan(&e.ID, &e.DefinitionID, &e.BusinessKey, &e.NodeID, &startedAt)
	e.StartedAt = fromMillis(startedAt)
	return e, err
}

func (t *Tx) Execution(ctx context.Context, id string) (*Execution, error) {
	e, err := scanExecution(t.tx.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("process instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return &e, nil
}

func (t *Tx) Executions(ctx context.Context) ([]Execution, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions ORDER BY started_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountExecutionsByDeployment counts running instances of a deployment's definitions.
func (t *Tx) CountExecutionsByDeployment(ctx context.Context, deploymentID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions e
		JOIN process_definitions d ON d.id = e.definition_id
		WHERE d.deployment_id = ?
	`, deploymentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count executions: %w", err)
	}
	return n, nil
}

func (t *Tx) UpdateExecutionNode(ctx context.Context, id, nodeID string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE executions SET node_id = ? WHERE id = ?`, nodeID, id)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

// DeleteExecution removes a finished instance together with its variables,
// tasks and jobs.
func (t *Tx) DeleteExecution(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	return nil
}

func (t *Tx) UpsertVariable(ctx context.Context, v Variable) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO variables (process_instance_id, name, type_name, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(process_instance_id, name)
		DO UPDATE SET type_name = excluded.type_name, value = excluded.value
	`, v.ProcessInstanceID, v.Name, v.TypeName, v.Value)
	if err != nil {
		return fmt.Errorf("upsert variable %s: %w", v.Name, err)
	}
	return nil
}

func (t *Tx) Variables(ctx context.Context, processInstanceID string) ([]Variable, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT process_instance_id, name, type_name, value FROM variables
		WHERE process_instance_id = ? ORDER BY name
	`, processInstanceID)
	if err != nil {
		return nil, fmt.Errorf("query variables: %w", err)
	}
	defer rows.Close()

	var out []Variable
	for rows.Next() {
		var v Variable
		if err := rows.Scan(&v.ProcessInstanceID, &v.Name, &v.TypeName, &v.Value); err != nil {
			return nil, fmt.Errorf("scan variable: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- tasks ---

func (t *Tx) InsertTask(ctx context.Context, task Task) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO tasks (id, process_instance_id, node_id, name, assignee, form_key, created_at, due_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.ProcessInstanceID, task.NodeID, task.Name, task.Assignee, task.FormKey,
		toMillis(task.CreatedAt), nullMillis(task.DueAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

const taskColumns = `id, process_instance_id, node_id, name, assignee, form_key, created_at, due_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var task Task
	var createdAt int64
	var dueAt sql.NullInt64
	err := row.Scan(&task.ID, &task.ProcessInstanceID, &task.NodeID, &task.Name,
		&task.Assignee, &task.FormKey, &createdAt, &dueAt)
	task.CreatedAt = fromMillis(createdAt)
	task.DueAt = fromNullMillis(dueAt)
	return task, err
}

func (t *Tx) Task(ctx context.Context, id string) (*Task, error) {
	task, err := scanTask(t.tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return &task, nil
}

// Tasks lists open tasks of one instance, or of all instances when
// processInstanceID is empty.
func (t *Tx) Tasks(ctx context.Context, processInstanceID string) ([]Task, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE ? = '' OR process_instance_id = ?
		ORDER BY created_at, id
	`, processInstanceID, processInstanceID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (t *Tx) UpdateTaskAssignee(ctx context.Context, id, assignee string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE tasks SET assignee = ? WHERE id = ?`, assignee, id)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// DeleteTasksAtNode removes the open tasks an instance holds at nodeID.
func (t *Tx) DeleteTasksAtNode(ctx context.Context, processInstanceID, nodeID string) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM tasks WHERE process_instance_id = ? AND node_id = ?`,
		processInstanceID, nodeID)
	if err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	return nil
}

// --- jobs ---

func (t *Tx) InsertJob(ctx context.Context, j Job) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO jobs (id, process_instance_id, node_id, kind, target, due_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, j.ID, j.ProcessInstanceID, j.NodeID, j.Kind, j.Target, toMillis(j.DueAt))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `id, process_instance_id, node_id, kind, target, due_at`

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var j Job
	var dueAt int64
	err := row.Scan(&j.ID, &j.ProcessInstanceID, &j.NodeID, &j.Kind, &j.Target, &dueAt)
	j.DueAt = fromMillis(dueAt)
	return j, err
}

func (t *Tx) Job(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(t.tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return &j, nil
}

// Jobs lists pending jobs of one instance (all when empty) in due order.
func (t *Tx) Jobs(ctx context.Context, processInstanceID string) ([]Job, error) {
	return t.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE ? = '' OR process_instance_id = ?
		ORDER BY due_at, id
	`, processInstanceID, processInstanceID)
}

// DueJobs lists jobs due at or before now, earliest first.
func (t *Tx) DueJobs(ctx context.Context, now time.Time) ([]Job, error) {
	return t.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE due_at <= ? ORDER BY due_at, id`,
		toMillis(now))
}

func (t *Tx) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (t *Tx) DeleteJob(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// DeleteJobsAtNode removes jobs attached to nodeID of an instance.
func (t *Tx) DeleteJobsAtNode(ctx context.Context, processInstanceID, nodeID string) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM jobs WHERE process_instance_id = ? AND node_id = ?`,
		processInstanceID, nodeID)
	if err != nil {
		return fmt.Errorf("delete jobs: %w", err)
	}
	return nil
}
