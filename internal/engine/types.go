package engine

import "time"

// Deployment describes an installed deployment.
type Deployment struct {
	ID         string
	Name       string
	DeployedAt time.Time
	Resources  []string
}

// ProcessDefinition is a deployed definition version.
type ProcessDefinition struct {
	ID           string
	Key          string
	Name         string
	Version      int
	DeploymentID string
	ResourceName string
	StartFormKey string
}

// ProcessInstance is a running process instance.
type ProcessInstance struct {
	ID           string
	DefinitionID string
	BusinessKey  string
	ActivityID   string
	StartedAt    time.Time
}

// Task is an open user task.
type Task struct {
	ID                string
	ProcessInstanceID string
	TaskDefinitionKey string
	Name              string
	Assignee          string
	FormKey           string
	CreatedAt         time.Time
	DueAt             *time.Time
}

// Job is a pending timer.
type Job struct {
	ID                string
	ProcessInstanceID string
	ActivityID        string
	Boundary          bool
	DueAt             time.Time
}

// HistoricProcessInstance is the history record of a process instance.
type HistoricProcessInstance struct {
	ID            string
	DefinitionID  string
	DefinitionKey string
	BusinessKey   string
	StartTime     time.Time
	EndTime       *time.Time
	EndActivityID string
}

// Ended reports whether the instance has finished.
func (h *HistoricProcessInstance) Ended() bool {
	return h.EndTime != nil
}

// Duration is EndTime - StartTime, or zero for running instances.
func (h *HistoricProcessInstance) Duration() time.Duration {
	if h.EndTime == nil {
		return 0
	}
	return h.EndTime.Sub(h.StartTime)
}

// HistoricVariableInstance is a process variable holding the last value it
// had in its process instance. Recorded when the history level is audit or
// full. Read-only.
type HistoricVariableInstance struct {
	// ID is the unique history row id.
	ID string

	VariableName     string
	VariableTypeName string
	Value            any

	// ProcessInstanceID is the owning process instance.
	ProcessInstanceID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is an identity entry.
type User struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
}
