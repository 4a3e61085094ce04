package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grillmaster/grillmaster/internal/config"
	"github.com/grillmaster/grillmaster/internal/errs"
	"github.com/grillmaster/grillmaster/internal/models"
	"github.com/grillmaster/grillmaster/internal/store"
)

func newTaskService(t *testing.T) (*TaskService, *ProjectService, *fakeQueue, *store.Store) {
	t.Helper()
	st := setupStore(t)
	queue := &fakeQueue{}
	cfg := &config.Config{
		Pipeline: config.PipelineConfig{Mode: "mock", ProjectsDir: t.TempDir()},
	}
	return NewTaskService(st, queue, nil), NewProjectService(st, queue, cfg, nil), queue, st
}

func TestTaskService_Get(t *testing.T) {
	tasks, projects, _, _ := newTaskService(t)
	ctx := context.Background()

	result, err := projects.Submit(ctx, "BV1gettable0", "")
	require.NoError(t, err)

	detail, err := tasks.Get(ctx, result.TaskID)
	require.NoError(t, err)
	assert.Equal(t, result.TaskID, detail.Task.ID)
	assert.Equal(t, models.TaskStatusQueued, detail.Task.Status)

	listed, err := tasks.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, result.TaskID, listed[0].ID)

	t.Run("unknown task", func(t *testing.T) {
		_, err := tasks.Get(ctx, models.NewULID())
		var nf *errs.NotFoundError
		assert.ErrorAs(t, err, &nf)
	})
}

func TestTaskService_Cancel(t *testing.T) {
	tasks, projects, _, st := newTaskService(t)
	ctx := context.Background()

	t.Run("queued task cancels immediately", func(t *testing.T) {
		result, err := projects.Submit(ctx, "BV1queuedone", "")
		require.NoError(t, err)

		status, err := tasks.Cancel(ctx, result.TaskID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCanceled, status)

		// A second cancel reports the settled status without complaint.
		status, err = tasks.Cancel(ctx, result.TaskID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCanceled, status)
	})

	t.Run("running task flips to canceling", func(t *testing.T) {
		result, err := projects.Submit(ctx, "BV1runnning0", "")
		require.NoError(t, err)
		require.NoError(t, st.UpdateTaskProgress(ctx, store.TaskProgressUpdate{
			TaskID:  result.TaskID,
			Status:  models.TaskStatusRunning,
			Step:    "download_video",
			Percent: 25,
			Message: "Downloading video",
		}))

		status, err := tasks.Cancel(ctx, result.TaskID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCanceling, status)
	})

	t.Run("unknown task", func(t *testing.T) {
		_, err := tasks.Cancel(ctx, models.NewULID())
		var nf *errs.NotFoundError
		assert.ErrorAs(t, err, &nf)
	})
}

func TestTaskService_Retry(t *testing.T) {
	tasks, projects, queue, st := newTaskService(t)
	ctx := context.Background()

	result, err := projects.Submit(ctx, "BV1retryable", "")
	require.NoError(t, err)
	require.NoError(t, st.UpdateTaskProgress(ctx, store.TaskProgressUpdate{
		TaskID:       result.TaskID,
		Status:       models.TaskStatusFailed,
		Step:         "run_asr",
		Percent:      55,
		Message:      "Step run_asr failed",
		EventType:    models.EventTypeError,
		Level:        models.EventLevelError,
		ErrorMessage: "asr backend unavailable",
	}))
	enqueuedBefore := len(queue.items)

	retried, err := tasks.Retry(ctx, result.TaskID)
	require.NoError(t, err)
	assert.Equal(t, result.TaskID, retried.TaskID)
	assert.Equal(t, result.ProjectID, retried.ProjectID)
	require.Len(t, queue.items, enqueuedBefore+1)
	assert.Equal(t, result.TaskID, queue.items[len(queue.items)-1].TaskID)

	detail, err := tasks.Get(ctx, result.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, detail.Task.Status)
	assert.Empty(t, detail.Task.ErrorMessage)

	t.Run("running task cannot be retried", func(t *testing.T) {
		require.NoError(t, st.UpdateTaskProgress(ctx, store.TaskProgressUpdate{
			TaskID:  result.TaskID,
			Status:  models.TaskStatusRunning,
			Step:    "run_asr",
			Percent: 55,
			Message: "Running speech recognition",
		}))
		before := len(queue.items)

		_, err := tasks.Retry(ctx, result.TaskID)
		var ve *errs.ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.Len(t, queue.items, before, "rejected retry must not enqueue")
	})

	t.Run("unknown task", func(t *testing.T) {
		_, err := tasks.Retry(ctx, models.NewULID())
		var nf *errs.NotFoundError
		assert.ErrorAs(t, err, &nf)
	})
}
