// Package store is the single surface that mutates grillmaster's durable
// state. Every status transition of projects, tasks, and step checkpoints
// goes through it; the pipeline runner and the HTTP layer never touch the
// database directly. Multi-row mutations run inside one transaction so a
// crash can never leave a task update without its companion event.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/grillmaster/grillmaster/internal/database"
	"github.com/grillmaster/grillmaster/internal/errs"
	"github.com/grillmaster/grillmaster/internal/models"
)

// Default list limits.
const (
	DefaultProjectLimit = 200
	DefaultTaskLimit    = 100
	projectTaskLimit    = 20
	taskEventLimit      = 400
)

// Store provides all state-mutating operations over the five tables.
type Store struct {
	db     *database.DB
	logger *slog.Logger
}

// New creates a Store backed by the given database.
func New(db *database.DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	s.logger = logger
	return s
}

// SubmitResult identifies the rows created by SubmitProject.
type SubmitResult struct {
	ProjectID models.ULID
	TaskID    models.ULID
}

// SubmitProject atomically inserts a queued project, its first pipeline task,
// and an initial system event. Returns ConflictError when a project with the
// same (source, sourceVideoId) already exists.
func (s *Store) SubmitProject(ctx context.Context, source models.SourceType, sourceVideoID, originalInput, translationHint string) (*SubmitResult, error) {
	var result SubmitResult

	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		project := &models.Project{
			Source:          source,
			SourceVideoID:   sourceVideoID,
			OriginalInput:   originalInput,
			TranslationHint: translationHint,
			Status:          models.ProjectStatusQueued,
		}
		// The (source, source_video_id) unique index is the duplicate check:
		// a pre-insert count would race a concurrent submit on postgres or
		// mysql.
		if err := tx.Create(project).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errs.NewConflict("project already exists for %s video %s", source, sourceVideoID)
			}
			return fmt.Errorf("creating project: %w", err)
		}

		task := &models.Task{
			ProjectID:   project.ID,
			Type:        models.TaskTypePipeline,
			Status:      models.TaskStatusQueued,
			CurrentStep: models.TaskStepSubmit,
			Message:     "Task queued",
		}
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("creating task: %w", err)
		}

		event := &models.TaskEvent{
			TaskID:    task.ID,
			ProjectID: project.ID,
			Step:      models.EventStepSystem,
			EventType: models.EventTypeSystem,
			Level:     models.EventLevelInfo,
			Message:   "Project submitted",
		}
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("creating submit event: %w", err)
		}

		result = SubmitResult{ProjectID: project.ID, TaskID: task.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ProjectWithLatestTask pairs a project with its most recent task, if any.
type ProjectWithLatestTask struct {
	Project    *models.Project `json:"project"`
	LatestTask *models.Task    `json:"latest_task,omitempty"`
}

// ListProjects returns projects ordered by creation time, newest first, each
// with its latest task. A non-positive limit selects the default.
func (s *Store) ListProjects(ctx context.Context, limit int) ([]*ProjectWithLatestTask, error) {
	if limit <= 0 || limit > DefaultProjectLimit {
		limit = DefaultProjectLimit
	}

	var projects []*models.Project
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	if len(projects) == 0 {
		return []*ProjectWithLatestTask{}, nil
	}

	ids := make([]models.ULID, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.ID)
	}

	var tasks []*models.Task
	if err := s.db.WithContext(ctx).
		Where("project_id IN ?", ids).
		Order("updated_at DESC, id DESC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("listing latest tasks: %w", err)
	}

	latest := make(map[models.ULID]*models.Task, len(projects))
	for _, t := range tasks {
		if _, ok := latest[t.ProjectID]; !ok {
			latest[t.ProjectID] = t
		}
	}

	out := make([]*ProjectWithLatestTask, 0, len(projects))
	for _, p := range projects {
		out = append(out, &ProjectWithLatestTask{Project: p, LatestTask: latest[p.ID]})
	}
	return out, nil
}

// ListTasks returns tasks ordered by last update, newest first.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]*models.Task, error) {
	if limit <= 0 || limit > DefaultTaskLimit {
		limit = DefaultTaskLimit
	}

	var tasks []*models.Task
	if err := s.db.WithContext(ctx).Order("updated_at DESC, id DESC").Limit(limit).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

// ProjectDetail is a project with its recent tasks, newest first.
type ProjectDetail struct {
	Project *models.Project `json:"project"`
	Tasks   []*models.Task  `json:"tasks"`
}

// GetProjectByID returns a project with up to 20 of its tasks, newest first.
// Returns (nil, nil) when the project does not exist.
func (s *Store) GetProjectByID(ctx context.Context, projectID models.ULID) (*ProjectDetail, error) {
	var project models.Project
	if err := s.db.WithContext(ctx).Where("id = ?", projectID).First(&project).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting project by ID: %w", err)
	}

	var tasks []*models.Task
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC, id DESC").
		Limit(projectTaskLimit).
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("getting project tasks: %w", err)
	}

	return &ProjectDetail{Project: &project, Tasks: tasks}, nil
}

// TaskDetail is a task with its recent events, newest first.
type TaskDetail struct {
	Task   *models.Task        `json:"task"`
	Events []*models.TaskEvent `json:"events"`
}

// GetTaskByID returns a task with up to 400 of its events, newest first.
// Returns (nil, nil) when the task does not exist.
func (s *Store) GetTaskByID(ctx context.Context, taskID models.ULID) (*TaskDetail, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).Where("id = ?", taskID).First(&task).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting task by ID: %w", err)
	}

	var events []*models.TaskEvent
	if err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at DESC, id DESC").
		Limit(taskEventLimit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("getting task events: %w", err)
	}

	return &TaskDetail{Task: &task, Events: events}, nil
}

// getTask loads a task inside a transaction, mapping a missing row to
// NotFoundError.
func getTask(tx *gorm.DB, taskID models.ULID) (*models.Task, error) {
	var task models.Task
	if err := tx.Where("id = ?", taskID).First(&task).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errs.NewNotFound("task", taskID.String())
		}
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return &task, nil
}

// ProjectPatch is a partial update for a project row. Only non-nil fields are
// written.
type ProjectPatch struct {
	Status          *models.ProjectStatus
	Title           *string
	ThumbnailURL    *string
	SourceURL       *string
	MediaPath       *string
	SubtitlePath    *string
	ASRVTTPath      *string
	LLMCostTWD      *float64
	LLMProvider     *string
	LLMModel        *string
	InputTokens     *int64
	OutputTokens    *int64
	TranslationHint *string
}

// columns renders the patch as a column map, empty when nothing is set.
func (p ProjectPatch) columns() map[string]any {
	updates := map[string]any{}
	if p.Status != nil {
		updates["status"] = *p.Status
	}
	if p.Title != nil {
		updates["title"] = *p.Title
	}
	if p.ThumbnailURL != nil {
		updates["thumbnail_url"] = *p.ThumbnailURL
	}
	if p.SourceURL != nil {
		updates["source_url"] = *p.SourceURL
	}
	if p.MediaPath != nil {
		updates["media_path"] = *p.MediaPath
	}
	if p.SubtitlePath != nil {
		updates["subtitle_path"] = *p.SubtitlePath
	}
	if p.ASRVTTPath != nil {
		updates["asr_vtt_path"] = *p.ASRVTTPath
	}
	if p.LLMCostTWD != nil {
		updates["llm_cost_twd"] = *p.LLMCostTWD
	}
	if p.LLMProvider != nil {
		updates["llm_provider"] = *p.LLMProvider
	}
	if p.LLMModel != nil {
		updates["llm_model"] = *p.LLMModel
	}
	if p.InputTokens != nil {
		updates["input_tokens"] = *p.InputTokens
	}
	if p.OutputTokens != nil {
		updates["output_tokens"] = *p.OutputTokens
	}
	if p.TranslationHint != nil {
		updates["translation_hint"] = *p.TranslationHint
	}
	return updates
}

// UpdateProjectFromPipeline applies a partial update to a project row and
// bumps updatedAt. Fields left nil in the patch are not written.
func (s *Store) UpdateProjectFromPipeline(ctx context.Context, projectID models.ULID, patch ProjectPatch) error {
	updates := patch.columns()
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = models.NowMillis()

	result := s.db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ?", projectID).
		UpdateColumns(updates)
	if result.Error != nil {
		return fmt.Errorf("updating project: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.NewNotFound("project", projectID.String())
	}
	return nil
}

// TaskProgressUpdate describes one task row update plus its companion event.
type TaskProgressUpdate struct {
	TaskID       models.ULID
	Status       models.TaskStatus
	Step         string
	Percent      int
	Message      string
	EventType    models.EventType  // default: log
	Level        models.EventLevel // default: info
	ErrorMessage string
	DurationMs   *int64
}

// UpdateTaskProgress updates the task row and appends one event, atomically.
// StartedAt is set on the first transition out of queued; FinishedAt is set
// exactly when the status is terminal.
func (s *Store) UpdateTaskProgress(ctx context.Context, update TaskProgressUpdate) error {
	return s.db.Transaction(ctx, func(tx *gorm.DB) error {
		task, err := getTask(tx, update.TaskID)
		if err != nil {
			return err
		}

		now := models.NowMillis()
		task.Status = update.Status
		task.CurrentStep = update.Step
		task.ProgressPercent = update.Percent
		task.Message = update.Message
		if update.ErrorMessage != "" {
			task.ErrorMessage = update.ErrorMessage
		}
		if task.StartedAt == nil && update.Status != models.TaskStatusQueued {
			task.StartedAt = models.MillisPtr(now)
		}
		if update.Status.IsTerminal() {
			if task.FinishedAt == nil {
				task.FinishedAt = models.MillisPtr(now)
			}
		}
		if err := tx.Save(task).Error; err != nil {
			return fmt.Errorf("updating task progress: %w", err)
		}

		return appendEvent(tx, EventInput{
			TaskID:       task.ID,
			ProjectID:    task.ProjectID,
			Step:         update.Step,
			EventType:    update.EventType,
			Level:        update.Level,
			Message:      update.Message,
			Percent:      update.Percent,
			DurationMs:   update.DurationMs,
			ErrorMessage: update.ErrorMessage,
		})
	})
}

// MarkStepStart upserts the checkpoint row for (taskID, step) to running,
// bumping the attempt counter and clearing the previous finish data. The
// checkpointed output survives so a later failure can still be resumed from.
func (s *Store) MarkStepStart(ctx context.Context, taskID, projectID models.ULID, step string) error {
	return s.db.Transaction(ctx, func(tx *gorm.DB) error {
		var state models.TaskStepState
		err := tx.Where("task_id = ? AND step = ?", taskID, step).First(&state).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			state = models.TaskStepState{
				TaskID:    taskID,
				ProjectID: projectID,
				Step:      step,
				Status:    models.StepStatusRunning,
				Attempt:   1,
				StartedAt: models.MillisPtr(models.NowMillis()),
			}
			if err := tx.Create(&state).Error; err != nil {
				return fmt.Errorf("creating step state: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("loading step state: %w", err)
		}

		updates := map[string]any{
			"status":        models.StepStatusRunning,
			"attempt":       state.Attempt + 1,
			"started_at":    models.NowMillis(),
			"finished_at":   nil,
			"duration_ms":   nil,
			"error_message": "",
			"updated_at":    models.NowMillis(),
		}
		if err := tx.Model(&state).UpdateColumns(updates).Error; err != nil {
			return fmt.Errorf("updating step state: %w", err)
		}
		return nil
	})
}

// MarkStepEnd writes the terminal status of a step attempt and returns the
// computed duration in milliseconds. outputJSON is only written when
// non-empty so a failed attempt does not wipe a previous checkpoint.
func (s *Store) MarkStepEnd(ctx context.Context, taskID, projectID models.ULID, step string, status models.StepStatus, errorMessage, outputJSON string) (int64, error) {
	var durationMs int64

	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		var state models.TaskStepState
		if err := tx.Where("task_id = ? AND step = ?", taskID, step).First(&state).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NewNotFound("step state", fmt.Sprintf("%s/%s", taskID, step))
			}
			return fmt.Errorf("loading step state: %w", err)
		}

		now := models.NowMillis()
		durationMs = 0
		if state.StartedAt != nil && now > *state.StartedAt {
			durationMs = now - *state.StartedAt
		}

		updates := map[string]any{
			"status":        status,
			"finished_at":   now,
			"duration_ms":   durationMs,
			"error_message": errorMessage,
			"updated_at":    now,
		}
		if outputJSON != "" {
			updates["output_json"] = outputJSON
		}
		if err := tx.Model(&state).UpdateColumns(updates).Error; err != nil {
			return fmt.Errorf("updating step state: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return durationMs, nil
}

// GetTaskStepStates returns the checkpoint snapshot for a task, keyed by step.
func (s *Store) GetTaskStepStates(ctx context.Context, taskID models.ULID) (map[string]*models.TaskStepState, error) {
	var states []*models.TaskStepState
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Find(&states).Error; err != nil {
		return nil, fmt.Errorf("getting task step states: %w", err)
	}

	byStep := make(map[string]*models.TaskStepState, len(states))
	for _, state := range states {
		byStep[state.Step] = state
	}
	return byStep, nil
}

// RequestTaskCancel asks a task to stop and returns the task status after the
// call. Terminal tasks are untouched; queued tasks cancel immediately; running
// tasks move to canceling and are collected by the runner at the next safe
// point. Step rows are never modified here.
func (s *Store) RequestTaskCancel(ctx context.Context, taskID models.ULID) (models.TaskStatus, error) {
	var status models.TaskStatus

	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		task, err := getTask(tx, taskID)
		if err != nil {
			return err
		}

		if task.IsTerminal() {
			status = task.Status
			return nil
		}

		now := models.NowMillis()

		if task.Status == models.TaskStatusQueued {
			task.Status = models.TaskStatusCanceled
			task.CancelRequestedAt = models.MillisPtr(now)
			task.CanceledAt = models.MillisPtr(now)
			task.FinishedAt = models.MillisPtr(now)
			task.Message = "Task canceled before start"
			if err := tx.Save(task).Error; err != nil {
				return fmt.Errorf("canceling queued task: %w", err)
			}
			if err := setProjectStatus(tx, task.ProjectID, models.ProjectStatusCanceled); err != nil {
				return err
			}
			status = task.Status
			return appendEvent(tx, EventInput{
				TaskID:    task.ID,
				ProjectID: task.ProjectID,
				Step:      task.CurrentStep,
				EventType: models.EventTypeSystem,
				Level:     models.EventLevelWarn,
				Message:   "Task canceled before start",
				Percent:   task.ProgressPercent,
			})
		}

		// Running or already canceling: record the request and let the
		// runner observe it at a safe point.
		task.Status = models.TaskStatusCanceling
		if task.CancelRequestedAt == nil {
			task.CancelRequestedAt = models.MillisPtr(now)
		}
		if err := tx.Save(task).Error; err != nil {
			return fmt.Errorf("marking task canceling: %w", err)
		}
		if err := setProjectStatus(tx, task.ProjectID, models.ProjectStatusCanceling); err != nil {
			return err
		}
		status = task.Status
		return appendEvent(tx, EventInput{
			TaskID:    task.ID,
			ProjectID: task.ProjectID,
			Step:      task.CurrentStep,
			EventType: models.EventTypeSystem,
			Level:     models.EventLevelWarn,
			Message:   "Cancel requested; task will stop at the next safe point",
			Percent:   task.ProgressPercent,
		})
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// IsTaskCancelRequested reports whether a cancel has been requested for the
// task. Once true it stays true until RetryTask clears the request.
func (s *Store) IsTaskCancelRequested(ctx context.Context, taskID models.ULID) (bool, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).
		Select("status", "cancel_requested_at").
		Where("id = ?", taskID).
		First(&task).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, errs.NewNotFound("task", taskID.String())
		}
		return false, fmt.Errorf("checking cancel request: %w", err)
	}
	return task.CancelRequested(), nil
}

// MarkTaskCanceled is the final transition of a cooperative cancel: the task
// and its project become canceled, with a warn event recording the reason.
func (s *Store) MarkTaskCanceled(ctx context.Context, taskID models.ULID, reason, step string, percent int) error {
	return s.db.Transaction(ctx, func(tx *gorm.DB) error {
		task, err := getTask(tx, taskID)
		if err != nil {
			return err
		}

		now := models.NowMillis()
		task.Status = models.TaskStatusCanceled
		task.CurrentStep = step
		task.ProgressPercent = percent
		task.Message = reason
		task.CanceledAt = models.MillisPtr(now)
		if task.FinishedAt == nil {
			task.FinishedAt = models.MillisPtr(now)
		}
		if err := tx.Save(task).Error; err != nil {
			return fmt.Errorf("marking task canceled: %w", err)
		}

		if err := setProjectStatus(tx, task.ProjectID, models.ProjectStatusCanceled); err != nil {
			return err
		}

		return appendEvent(tx, EventInput{
			TaskID:    task.ID,
			ProjectID: task.ProjectID,
			Step:      step,
			EventType: models.EventTypeSystem,
			Level:     models.EventLevelWarn,
			Message:   reason,
			Percent:   percent,
		})
	})
}

// RetryResult identifies the task a retry re-queued.
type RetryResult struct {
	TaskID    models.ULID
	ProjectID models.ULID
}

// RetryTask resets a terminal (or still queued) task back to queued and
// resets every step row that did not complete, preserving completed
// checkpoints so the next run resumes after them. A crash can leave a step
// row in running; that row is non-completed and is reset like a failed one.
// Running or canceling tasks are rejected.
func (s *Store) RetryTask(ctx context.Context, taskID models.ULID) (*RetryResult, error) {
	var result RetryResult

	err := s.db.Transaction(ctx, func(tx *gorm.DB) error {
		task, err := getTask(tx, taskID)
		if err != nil {
			return err
		}
		if task.Status == models.TaskStatusRunning || task.Status == models.TaskStatusCanceling {
			return errs.NewValidation("cannot retry task in %s state; cancel it first", task.Status)
		}

		task.Status = models.TaskStatusQueued
		task.CurrentStep = models.TaskStepRetry
		task.ProgressPercent = 0
		task.Message = "Task retry requested"
		task.ErrorMessage = ""
		task.StartedAt = nil
		task.FinishedAt = nil
		task.CancelRequestedAt = nil
		task.CanceledAt = nil
		if err := tx.Save(task).Error; err != nil {
			return fmt.Errorf("resetting task: %w", err)
		}

		if err := setProjectStatus(tx, task.ProjectID, models.ProjectStatusQueued); err != nil {
			return err
		}

		// Non-completed step rows are re-run from scratch; attempt counters
		// survive so the row shows the full history.
		if err := tx.Model(&models.TaskStepState{}).
			Where("task_id = ? AND status <> ?", taskID, models.StepStatusCompleted).
			UpdateColumns(map[string]any{
				"status":        models.StepStatusPending,
				"started_at":    nil,
				"finished_at":   nil,
				"duration_ms":   nil,
				"error_message": "",
				"updated_at":    models.NowMillis(),
			}).Error; err != nil {
			return fmt.Errorf("resetting step states: %w", err)
		}

		result = RetryResult{TaskID: task.ID, ProjectID: task.ProjectID}
		return appendEvent(tx, EventInput{
			TaskID:    task.ID,
			ProjectID: task.ProjectID,
			Step:      models.EventStepSystem,
			EventType: models.EventTypeSystem,
			Level:     models.EventLevelInfo,
			Message:   "Task retry requested",
		})
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetInterruptedTasks returns tasks left in running or canceling state,
// oldest first. Called once during the startup recovery sweep.
func (s *Store) GetInterruptedTasks(ctx context.Context) ([]*models.Task, error) {
	var tasks []*models.Task
	if err := s.db.WithContext(ctx).
		Where("status IN ?", []models.TaskStatus{models.TaskStatusRunning, models.TaskStatusCanceling}).
		Order("created_at ASC, id ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("getting interrupted tasks: %w", err)
	}
	return tasks, nil
}

// DeleteProject removes the project and everything it owns: tasks, events,
// step states, and watch progress, in one transaction.
func (s *Store) DeleteProject(ctx context.Context, projectID models.ULID) error {
	return s.db.Transaction(ctx, func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.Where("id = ?", projectID).First(&project).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return errs.NewNotFound("project", projectID.String())
			}
			return fmt.Errorf("getting project for delete: %w", err)
		}

		if err := tx.Where("project_id = ?", projectID).Delete(&models.Task{}).Error; err != nil {
			return fmt.Errorf("deleting tasks: %w", err)
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.TaskEvent{}).Error; err != nil {
			return fmt.Errorf("deleting task events: %w", err)
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.TaskStepState{}).Error; err != nil {
			return fmt.Errorf("deleting step states: %w", err)
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.WatchProgress{}).Error; err != nil {
			return fmt.Errorf("deleting watch progress: %w", err)
		}
		if err := tx.Delete(&project).Error; err != nil {
			return fmt.Errorf("deleting project: %w", err)
		}
		return nil
	})
}

// UpsertWatchProgress records a viewer's playback position, overwriting any
// previous row for the same (project, viewer) pair.
func (s *Store) UpsertWatchProgress(ctx context.Context, projectID models.ULID, viewerID string, positionSec, durationSec float64) error {
	return s.db.Transaction(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Project{}).Where("id = ?", projectID).Count(&count).Error; err != nil {
			return fmt.Errorf("checking project: %w", err)
		}
		if count == 0 {
			return errs.NewNotFound("project", projectID.String())
		}

		progress := &models.WatchProgress{
			ProjectID:   projectID,
			ViewerID:    viewerID,
			PositionSec: positionSec,
			DurationSec: durationSec,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "project_id"}, {Name: "viewer_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"position_sec": positionSec,
				"duration_sec": durationSec,
				"updated_at":   models.NowMillis(),
			}),
		}).Create(progress).Error; err != nil {
			return fmt.Errorf("upserting watch progress: %w", err)
		}
		return nil
	})
}

// GetWatchProgress returns the stored position for one viewer, or (nil, nil).
func (s *Store) GetWatchProgress(ctx context.Context, projectID models.ULID, viewerID string) (*models.WatchProgress, error) {
	var progress models.WatchProgress
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND viewer_id = ?", projectID, viewerID).
		First(&progress).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting watch progress: %w", err)
	}
	return &progress, nil
}

// EventInput describes one task event to append.
type EventInput struct {
	TaskID       models.ULID
	ProjectID    models.ULID
	Step         string            // default: system
	EventType    models.EventType  // default: system
	Level        models.EventLevel // default: info
	Message      string
	Percent      int
	DurationMs   *int64
	ErrorMessage string
}

// AppendTaskEvent appends one event row. The message is bounded to the event
// message limit; empty step/type/level fall back to system/system/info.
func (s *Store) AppendTaskEvent(ctx context.Context, input EventInput) error {
	return s.db.Transaction(ctx, func(tx *gorm.DB) error {
		return appendEvent(tx, input)
	})
}

// appendEvent inserts one event row inside an existing transaction.
func appendEvent(tx *gorm.DB, input EventInput) error {
	if input.Step == "" {
		input.Step = models.EventStepSystem
	}
	if input.EventType == "" {
		input.EventType = models.EventTypeSystem
	}
	if input.Level == "" {
		input.Level = models.EventLevelInfo
	}

	event := &models.TaskEvent{
		TaskID:       input.TaskID,
		ProjectID:    input.ProjectID,
		Step:         input.Step,
		EventType:    input.EventType,
		Level:        input.Level,
		Message:      models.TruncateEventMessage(input.Message),
		Percent:      input.Percent,
		DurationMs:   input.DurationMs,
		ErrorMessage: input.ErrorMessage,
	}
	if err := tx.Create(event).Error; err != nil {
		return fmt.Errorf("appending task event: %w", err)
	}
	return nil
}

// setProjectStatus writes a project's status inside a transaction.
func setProjectStatus(tx *gorm.DB, projectID models.ULID, status models.ProjectStatus) error {
	if err := tx.Model(&models.Project{}).
		Where("id = ?", projectID).
		UpdateColumns(map[string]any{
			"status":     status,
			"updated_at": models.NowMillis(),
		}).Error; err != nil {
		return fmt.Errorf("updating project status: %w", err)
	}
	return nil
}
