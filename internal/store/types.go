package store

import "time"

// Deployment is a row of the deployments table.
type Deployment struct {
	ID         string
	Name       string
	DeployedAt time.Time
}

// Resource is one named resource of a deployment.
type Resource struct {
	DeploymentID string
	Name         string
	Content      []byte
}

// ProcessDefinition is a deployed, versioned definition.
type ProcessDefinition struct {
	ID           string
	Key          string
	Name         string
	Version      int
	DeploymentID string
	ResourceName string
	StartFormKey string
}

// Execution is a running process instance.
type Execution struct {
	ID           string
	DefinitionID string
	BusinessKey  string
	NodeID       string
	StartedAt    time.Time
}

// Variable is a runtime variable; Value holds JSON.
type Variable struct {
	ProcessInstanceID string
	Name              string
	TypeName          string
	Value             string
}

// Task is an open user task.
type Task struct {
	ID                string
	ProcessInstanceID string
	NodeID            string
	Name              string
	Assignee          string
	FormKey           string
	CreatedAt         time.Time
	DueAt             *time.Time
}

// Job kinds.
const (
	JobTimer    = "timer"
	JobBoundary = "boundary"
)

// Job is a pending timer.
type Job struct {
	ID                string
	ProcessInstanceID string
	NodeID            string
	Kind              string
	Target            string
	DueAt             time.Time
}

// HistoricProcessInstance records a process instance's lifetime.
// DefinitionKey is filled from process_definitions on read.
type HistoricProcessInstance struct {
	ID            string
	DefinitionID  string
	DefinitionKey string
	BusinessKey   string
	StartTime     time.Time
	EndTime       *time.Time
	EndNodeID     string
}

// HistoricVariable holds the last value of a process variable; Value holds JSON.
type HistoricVariable struct {
	ID                string
	ProcessInstanceID string
	Name              string
	TypeName          string
	Value             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// User is an identity entry.
type User struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
}
