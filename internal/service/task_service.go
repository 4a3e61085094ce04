package service

import (
	"context"
	"log/slog"

	"github.com/grillmaster/grillmaster/internal/errs"
	"github.com/grillmaster/grillmaster/internal/models"
	"github.com/grillmaster/grillmaster/internal/pipeline"
	"github.com/grillmaster/grillmaster/internal/store"
)

// TaskService handles task listing and control operations.
type TaskService struct {
	store  *store.Store
	queue  Queue
	logger *slog.Logger
}

// NewTaskService creates a task service.
func NewTaskService(st *store.Store, queue Queue, logger *slog.Logger) *TaskService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{store: st, queue: queue, logger: logger}
}

// List returns recent tasks, newest first.
func (s *TaskService) List(ctx context.Context, limit int) ([]*models.Task, error) {
	return s.store.ListTasks(ctx, limit)
}

// Get returns one task with its recent events.
func (s *TaskService) Get(ctx context.Context, taskID models.ULID) (*store.TaskDetail, error) {
	detail, err := s.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, errs.NewNotFound("task", taskID.String())
	}
	return detail, nil
}

// Cancel requests cooperative cancellation and reports the task status
// after the request. Queued tasks cancel immediately; running tasks stop at
// the next safe point.
func (s *TaskService) Cancel(ctx context.Context, taskID models.ULID) (models.TaskStatus, error) {
	return s.store.RequestTaskCancel(ctx, taskID)
}

// Retry resets a settled task to queued and puts it back on the runner
// queue. Completed step checkpoints survive, so the rerun resumes after the
// last successful step.
func (s *TaskService) Retry(ctx context.Context, taskID models.ULID) (*store.RetryResult, error) {
	result, err := s.store.RetryTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !s.queue.Enqueue(pipeline.QueueItem{TaskID: result.TaskID, ProjectID: result.ProjectID}) {
		s.logger.Warn("retry accepted but queue rejected the task",
			slog.String("task_id", result.TaskID.String()))
	}
	return result, nil
}
