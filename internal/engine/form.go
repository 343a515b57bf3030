package engine

import (
	"context"
)

// FormService resolves form keys and submits forms.
type FormService struct {
	e *Engine
}

// StartFormKey returns the start form key of the latest definition with key.
func (f *FormService) StartFormKey(ctx context.Context, definitionKey string) (string, error) {
	def, err := f.e.repository.LatestProcessDefinition(ctx, definitionKey)
	if err != nil {
		return "", err
	}
	return def.StartFormKey, nil
}

// TaskFormKey returns the form key of an open task.
func (f *FormService) TaskFormKey(ctx context.Context, taskID string) (string, error) {
	task, err := f.e.tasks.Task(ctx, taskID)
	if err != nil {
		return "", err
	}
	return task.FormKey, nil
}

// SubmitStartForm starts an instance with the submitted properties as
// variables.
func (f *FormService) SubmitStartForm(ctx context.Context, definitionKey, businessKey string, properties map[string]any) (*ProcessInstance, error) {
	return f.e.runtime.StartProcessInstanceByKey(ctx, definitionKey, businessKey, properties)
}

// SubmitTaskForm completes a task with the submitted properties.
func (f *FormService) SubmitTaskForm(ctx context.Context, taskID string, properties map[string]any) error {
	return f.e.tasks.Complete(ctx, taskID, properties)
}
