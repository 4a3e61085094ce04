package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/grillmaster/grillmaster/internal/models"
	"github.com/grillmaster/grillmaster/internal/service"
	"github.com/grillmaster/grillmaster/internal/store"
)

// ProjectHandler handles project API endpoints.
type ProjectHandler struct {
	projects *service.ProjectService
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(projects *service.ProjectService) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

// Register registers the project routes with the API.
func (h *ProjectHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "submitProject",
		Method:      "POST",
		Path:        "/api/v1/projects",
		Summary:     "Submit a video for translation",
		Description: "Creates a project with its first pipeline task and enqueues it",
		Tags:        []string{"Projects"},
	}, h.Submit)

	huma.Register(api, huma.Operation{
		OperationID: "listProjects",
		Method:      "GET",
		Path:        "/api/v1/projects",
		Summary:     "List projects",
		Description: "Returns recent projects with their latest task, newest first",
		Tags:        []string{"Projects"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getProject",
		Method:      "GET",
		Path:        "/api/v1/projects/{projectId}",
		Summary:     "Get project",
		Description: "Returns a project with its recent tasks",
		Tags:        []string{"Projects"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "deleteProject",
		Method:      "DELETE",
		Path:        "/api/v1/projects/{projectId}",
		Summary:     "Delete project",
		Description: "Moves the project directory aside and removes all database rows",
		Tags:        []string{"Projects"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "putWatchProgress",
		Method:      "PUT",
		Path:        "/api/v1/projects/{projectId}/watch-progress",
		Summary:     "Save watch progress",
		Description: "Upserts a viewer's playback position for the project",
		Tags:        []string{"Projects"},
	}, h.PutWatchProgress)

	huma.Register(api, huma.Operation{
		OperationID: "getWatchProgress",
		Method:      "GET",
		Path:        "/api/v1/projects/{projectId}/watch-progress",
		Summary:     "Get watch progress",
		Description: "Returns a viewer's saved playback position for the project",
		Tags:        []string{"Projects"},
	}, h.GetWatchProgress)
}

// SubmitProjectInput is the input for submitting a project.
type SubmitProjectInput struct {
	Body struct {
		SourceOrURL     string `json:"sourceOrUrl" doc:"Video URL or platform-native id" minLength:"2" maxLength:"2048"`
		TranslationHint string `json:"translationHint,omitempty" doc:"Optional context for the translator" maxLength:"400"`
	}
}

// SubmitProjectOutput is the output for submitting a project.
type SubmitProjectOutput struct {
	Body struct {
		ProjectID models.ULID       `json:"projectId"`
		TaskID    models.ULID       `json:"taskId"`
		Status    models.TaskStatus `json:"status"`
	}
}

// Submit creates a project and enqueues its first pipeline task.
func (h *ProjectHandler) Submit(ctx context.Context, input *SubmitProjectInput) (*SubmitProjectOutput, error) {
	result, err := h.projects.Submit(ctx, input.Body.SourceOrURL, input.Body.TranslationHint)
	if err != nil {
		return nil, mapServiceError(err, "failed to submit project")
	}

	resp := &SubmitProjectOutput{}
	resp.Body.ProjectID = result.ProjectID
	resp.Body.TaskID = result.TaskID
	resp.Body.Status = models.TaskStatusQueued
	return resp, nil
}

// ListProjectsInput is the input for listing projects.
type ListProjectsInput struct {
	Limit int `query:"limit" default:"200" minimum:"1" maximum:"200" doc:"Maximum number of projects to return"`
}

// ListProjectsOutput is the output for listing projects.
type ListProjectsOutput struct {
	Body struct {
		Projects []*store.ProjectWithLatestTask `json:"projects"`
	}
}

// List returns recent projects, newest first.
func (h *ProjectHandler) List(ctx context.Context, input *ListProjectsInput) (*ListProjectsOutput, error) {
	projects, err := h.projects.List(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list projects", err)
	}

	resp := &ListProjectsOutput{}
	resp.Body.Projects = projects
	return resp, nil
}

// GetProjectInput is the input for getting a project.
type GetProjectInput struct {
	ProjectID string `path:"projectId" doc:"Project ID (ULID)"`
}

// GetProjectOutput is the output for getting a project.
type GetProjectOutput struct {
	Body store.ProjectDetail
}

// GetByID returns a project with its recent tasks.
func (h *ProjectHandler) GetByID(ctx context.Context, input *GetProjectInput) (*GetProjectOutput, error) {
	id, err := parseULID(input.ProjectID)
	if err != nil {
		return nil, err
	}

	detail, err := h.projects.Get(ctx, id)
	if err != nil {
		return nil, mapServiceError(err, "failed to get project")
	}

	return &GetProjectOutput{Body: *detail}, nil
}

// DeleteProjectInput is the input for deleting a project.
type DeleteProjectInput struct {
	ProjectID string `path:"projectId" doc:"Project ID (ULID)"`
}

// DeleteProjectOutput is the output for deleting a project.
type DeleteProjectOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

// Delete removes a project, its rows, and moves its directory aside.
func (h *ProjectHandler) Delete(ctx context.Context, input *DeleteProjectInput) (*DeleteProjectOutput, error) {
	id, err := parseULID(input.ProjectID)
	if err != nil {
		return nil, err
	}

	if err := h.projects.Delete(ctx, id); err != nil {
		return nil, mapServiceError(err, "failed to delete project")
	}

	resp := &DeleteProjectOutput{}
	resp.Body.Deleted = true
	return resp, nil
}

// PutWatchProgressInput is the input for saving watch progress.
type PutWatchProgressInput struct {
	ProjectID string `path:"projectId" doc:"Project ID (ULID)"`
	Body      struct {
		ViewerID    string  `json:"viewerId" doc:"Opaque viewer identifier" minLength:"1" maxLength:"100"`
		PositionSec float64 `json:"positionSec" doc:"Playback position in seconds" minimum:"0"`
		DurationSec float64 `json:"durationSec" doc:"Media duration in seconds" exclusiveMinimum:"0"`
	}
}

// PutWatchProgressOutput is the output for saving watch progress.
type PutWatchProgressOutput struct {
	Body struct {
		Saved bool `json:"saved"`
	}
}

// PutWatchProgress upserts a viewer's playback position.
func (h *ProjectHandler) PutWatchProgress(ctx context.Context, input *PutWatchProgressInput) (*PutWatchProgressOutput, error) {
	id, err := parseULID(input.ProjectID)
	if err != nil {
		return nil, err
	}

	if err := h.projects.SaveWatchProgress(ctx, id, input.Body.ViewerID, input.Body.PositionSec, input.Body.DurationSec); err != nil {
		return nil, mapServiceError(err, "failed to save watch progress")
	}

	resp := &PutWatchProgressOutput{}
	resp.Body.Saved = true
	return resp, nil
}

// GetWatchProgressInput is the input for getting watch progress.
type GetWatchProgressInput struct {
	ProjectID string `path:"projectId" doc:"Project ID (ULID)"`
	ViewerID  string `query:"viewerId" required:"true" doc:"Opaque viewer identifier"`
}

// GetWatchProgressOutput is the output for getting watch progress.
type GetWatchProgressOutput struct {
	Body models.WatchProgress
}

// GetWatchProgress returns a viewer's saved playback position.
func (h *ProjectHandler) GetWatchProgress(ctx context.Context, input *GetWatchProgressInput) (*GetWatchProgressOutput, error) {
	id, err := parseULID(input.ProjectID)
	if err != nil {
		return nil, err
	}

	progress, err := h.projects.GetWatchProgress(ctx, id, input.ViewerID)
	if err != nil {
		return nil, mapServiceError(err, "failed to get watch progress")
	}
	if progress == nil {
		return nil, huma.Error404NotFound("no watch progress for viewer " + input.ViewerID)
	}

	return &GetWatchProgressOutput{Body: *progress}, nil
}
