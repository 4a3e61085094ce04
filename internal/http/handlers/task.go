package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/grillmaster/grillmaster/internal/models"
	"github.com/grillmaster/grillmaster/internal/service"
	"github.com/grillmaster/grillmaster/internal/store"
)

// TaskHandler handles task API endpoints.
type TaskHandler struct {
	tasks *service.TaskService
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(tasks *service.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// Register registers the task routes with the API.
func (h *TaskHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listTasks",
		Method:      "GET",
		Path:        "/api/v1/tasks",
		Summary:     "List tasks",
		Description: "Returns recently updated tasks, newest first",
		Tags:        []string{"Tasks"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getTask",
		Method:      "GET",
		Path:        "/api/v1/tasks/{taskId}",
		Summary:     "Get task",
		Description: "Returns a task with its recent events",
		Tags:        []string{"Tasks"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "cancelTask",
		Method:      "POST",
		Path:        "/api/v1/tasks/{taskId}/cancel",
		Summary:     "Cancel task",
		Description: "Requests cooperative cancellation and returns the task status after the request",
		Tags:        []string{"Tasks"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "retryTask",
		Method:      "POST",
		Path:        "/api/v1/tasks/{taskId}/retry",
		Summary:     "Retry task",
		Description: "Resets a settled task to queued and puts it back on the runner queue",
		Tags:        []string{"Tasks"},
	}, h.Retry)
}

// ListTasksInput is the input for listing tasks.
type ListTasksInput struct {
	Limit int `query:"limit" default:"100" minimum:"1" maximum:"100" doc:"Maximum number of tasks to return"`
}

// ListTasksOutput is the output for listing tasks.
type ListTasksOutput struct {
	Body struct {
		Tasks []*models.Task `json:"tasks"`
	}
}

// List returns recent tasks, newest first.
func (h *TaskHandler) List(ctx context.Context, input *ListTasksInput) (*ListTasksOutput, error) {
	tasks, err := h.tasks.List(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list tasks", err)
	}

	resp := &ListTasksOutput{}
	resp.Body.Tasks = tasks
	return resp, nil
}

// GetTaskInput is the input for getting a task.
type GetTaskInput struct {
	TaskID string `path:"taskId" doc:"Task ID (ULID)"`
}

// GetTaskOutput is the output for getting a task.
type GetTaskOutput struct {
	Body store.TaskDetail
}

// GetByID returns a task with its recent events.
func (h *TaskHandler) GetByID(ctx context.Context, input *GetTaskInput) (*GetTaskOutput, error) {
	id, err := parseULID(input.TaskID)
	if err != nil {
		return nil, err
	}

	detail, err := h.tasks.Get(ctx, id)
	if err != nil {
		return nil, mapServiceError(err, "failed to get task")
	}

	return &GetTaskOutput{Body: *detail}, nil
}

// CancelTaskInput is the input for canceling a task.
type CancelTaskInput struct {
	TaskID string `path:"taskId" doc:"Task ID (ULID)"`
}

// CancelTaskOutput is the output for canceling a task.
type CancelTaskOutput struct {
	Body struct {
		TaskID models.ULID       `json:"taskId"`
		Status models.TaskStatus `json:"status"`
	}
}

// Cancel requests cooperative cancellation of a task.
func (h *TaskHandler) Cancel(ctx context.Context, input *CancelTaskInput) (*CancelTaskOutput, error) {
	id, err := parseULID(input.TaskID)
	if err != nil {
		return nil, err
	}

	status, err := h.tasks.Cancel(ctx, id)
	if err != nil {
		return nil, mapServiceError(err, "failed to cancel task")
	}

	resp := &CancelTaskOutput{}
	resp.Body.TaskID = id
	resp.Body.Status = status
	return resp, nil
}

// RetryTaskInput is the input for retrying a task.
type RetryTaskInput struct {
	TaskID string `path:"taskId" doc:"Task ID (ULID)"`
}

// RetryTaskOutput is the output for retrying a task.
type RetryTaskOutput struct {
	Body struct {
		TaskID    models.ULID       `json:"taskId"`
		ProjectID models.ULID       `json:"projectId"`
		Status    models.TaskStatus `json:"status"`
	}
}

// Retry resets a settled task to queued and re-enqueues it.
func (h *TaskHandler) Retry(ctx context.Context, input *RetryTaskInput) (*RetryTaskOutput, error) {
	id, err := parseULID(input.TaskID)
	if err != nil {
		return nil, err
	}

	result, err := h.tasks.Retry(ctx, id)
	if err != nil {
		return nil, mapServiceError(err, "failed to retry task")
	}

	resp := &RetryTaskOutput{}
	resp.Body.TaskID = result.TaskID
	resp.Body.ProjectID = result.ProjectID
	resp.Body.Status = models.TaskStatusQueued
	return resp, nil
}
