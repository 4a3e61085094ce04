package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grillmaster/grillmaster/internal/config"
	"github.com/grillmaster/grillmaster/internal/database"
	"github.com/grillmaster/grillmaster/internal/database/migrations"
	"github.com/grillmaster/grillmaster/internal/errs"
	"github.com/grillmaster/grillmaster/internal/models"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.New(config.DatabaseConfig{
		Driver:   "sqlite",
		Path:     ":memory:",
		LogLevel: "silent",
	}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrator := migrations.NewMigrator(db.DB, nil)
	migrator.RegisterAll(migrations.AllMigrations())
	require.NoError(t, migrator.Up(context.Background()))

	return New(db)
}

func submitTestProject(t *testing.T, s *Store, videoID string) *SubmitResult {
	t.Helper()
	result, err := s.SubmitProject(context.Background(), models.SourceBilibili, videoID, videoID, "")
	require.NoError(t, err)
	return result
}

func TestSubmitProject(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	t.Run("creates project task and event", func(t *testing.T) {
		result, err := s.SubmitProject(ctx, models.SourceBilibili, "BV18KBJBeEmV", "BV18KBJBeEmV", "cooking stream")
		require.NoError(t, err)
		require.False(t, result.ProjectID.IsZero())
		require.False(t, result.TaskID.IsZero())

		detail, err := s.GetProjectByID(ctx, result.ProjectID)
		require.NoError(t, err)
		require.NotNil(t, detail)
		assert.Equal(t, models.ProjectStatusQueued, detail.Project.Status)
		assert.Equal(t, "cooking stream", detail.Project.TranslationHint)
		require.Len(t, detail.Tasks, 1)
		assert.Equal(t, models.TaskStatusQueued, detail.Tasks[0].Status)
		assert.Equal(t, models.TaskStepSubmit, detail.Tasks[0].CurrentStep)

		taskDetail, err := s.GetTaskByID(ctx, result.TaskID)
		require.NoError(t, err)
		require.Len(t, taskDetail.Events, 1)
		assert.Equal(t, models.EventTypeSystem, taskDetail.Events[0].EventType)
		assert.Equal(t, "Project submitted", taskDetail.Events[0].Message)
	})

	t.Run("duplicate source video conflicts", func(t *testing.T) {
		// The unique index on (source, source_video_id) is the arbiter, so
		// concurrent submits cannot both slip past a pre-insert check.
		_, err := s.SubmitProject(ctx, models.SourceBilibili, "BV18KBJBeEmV", "again", "")
		require.Error(t, err)
		var conflict *errs.ConflictError
		assert.ErrorAs(t, err, &conflict)
		assert.Contains(t, err.Error(), "already exists")

		// The rejected submit leaves no task behind.
		tasks, err := s.ListTasks(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, tasks, 1)
	})

	t.Run("same id on another source is allowed", func(t *testing.T) {
		_, err := s.SubmitProject(ctx, models.SourceUnknown, "BV18KBJBeEmV", "BV18KBJBeEmV", "")
		require.NoError(t, err)
	})
}

func TestListProjects(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	first := submitTestProject(t, s, "BVaaaaaaaaa1")
	time.Sleep(2 * time.Millisecond) // created_at has millisecond resolution
	second := submitTestProject(t, s, "BVaaaaaaaaa2")

	list, err := s.ListProjects(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)

	// Newest first, each with its latest task attached.
	assert.Equal(t, second.ProjectID, list[0].Project.ID)
	assert.Equal(t, first.ProjectID, list[1].Project.ID)
	require.NotNil(t, list[0].LatestTask)
	assert.Equal(t, second.TaskID, list[0].LatestTask.ID)

	limited, err := s.ListProjects(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestListTasks(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	submitTestProject(t, s, "BVbbbbbbbbb1")
	submitTestProject(t, s, "BVbbbbbbbbb2")

	tasks, err := s.ListTasks(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestGetByID_NotFound(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	project, err := s.GetProjectByID(ctx, models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, project)

	task, err := s.GetTaskByID(ctx, models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestUpdateProjectFromPipeline(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	result := submitTestProject(t, s, "BVccccccccc1")

	t.Run("writes only set fields", func(t *testing.T) {
		status := models.ProjectStatusDownloading
		title := "焼肉の王様"
		cost := 1.25
		require.NoError(t, s.UpdateProjectFromPipeline(ctx, result.ProjectID, ProjectPatch{
			Status:     &status,
			Title:      &title,
			LLMCostTWD: &cost,
		}))

		detail, err := s.GetProjectByID(ctx, result.ProjectID)
		require.NoError(t, err)
		assert.Equal(t, models.ProjectStatusDownloading, detail.Project.Status)
		assert.Equal(t, "焼肉の王様", detail.Project.Title)
		assert.Equal(t, 1.25, detail.Project.LLMCostTWD)
		// Untouched fields survive.
		assert.Equal(t, "BVccccccccc1", detail.Project.OriginalInput)
	})

	t.Run("empty patch is a no-op", func(t *testing.T) {
		require.NoError(t, s.UpdateProjectFromPipeline(ctx, result.ProjectID, ProjectPatch{}))
	})

	t.Run("unknown project is not found", func(t *testing.T) {
		status := models.ProjectStatusFailed
		err := s.UpdateProjectFromPipeline(ctx, models.NewULID(), ProjectPatch{Status: &status})
		var notFound *errs.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestUpdateTaskProgress(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	result := submitTestProject(t, s, "BVddddddddd1")

	require.NoError(t, s.UpdateTaskProgress(ctx, TaskProgressUpdate{
		TaskID:  result.TaskID,
		Status:  models.TaskStatusRunning,
		Step:    "download_video",
		Percent: 25,
		Message: "Downloading video",
	}))

	detail, err := s.GetTaskByID(ctx, result.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, detail.Task.Status)
	assert.Equal(t, "download_video", detail.Task.CurrentStep)
	assert.Equal(t, 25, detail.Task.ProgressPercent)
	assert.NotNil(t, detail.Task.StartedAt)
	assert.Nil(t, detail.Task.FinishedAt)

	// Terminal update stamps FinishedAt and appends another event.
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.UpdateTaskProgress(ctx, TaskProgressUpdate{
		TaskID:       result.TaskID,
		Status:       models.TaskStatusFailed,
		Step:         "download_video",
		Percent:      25,
		Message:      "Download failed",
		EventType:    models.EventTypeError,
		Level:        models.EventLevelError,
		ErrorMessage: "exit status 1",
	}))

	detail, err = s.GetTaskByID(ctx, result.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, detail.Task.Status)
	assert.NotNil(t, detail.Task.FinishedAt)
	assert.Equal(t, "exit status 1", detail.Task.ErrorMessage)
	// submit event + two progress events, newest first.
	require.Len(t, detail.Events, 3)
	assert.Equal(t, models.EventTypeError, detail.Events[0].EventType)

	t.Run("unknown task is not found", func(t *testing.T) {
		err := s.UpdateTaskProgress(ctx, TaskProgressUpdate{TaskID: models.NewULID(), Status: models.TaskStatusRunning})
		var notFound *errs.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestStepStateLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	result := submitTestProject(t, s, "BVeeeeeeeee1")

	t.Run("first start creates the row", func(t *testing.T) {
		require.NoError(t, s.MarkStepStart(ctx, result.TaskID, result.ProjectID, "fetch_metadata"))

		states, err := s.GetTaskStepStates(ctx, result.TaskID)
		require.NoError(t, err)
		state := states["fetch_metadata"]
		require.NotNil(t, state)
		assert.Equal(t, models.StepStatusRunning, state.Status)
		assert.Equal(t, 1, state.Attempt)
		assert.NotNil(t, state.StartedAt)
	})

	t.Run("end records duration and output", func(t *testing.T) {
		duration, err := s.MarkStepEnd(ctx, result.TaskID, result.ProjectID, "fetch_metadata",
			models.StepStatusCompleted, "", `{"title":"t"}`)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, duration, int64(0))

		states, err := s.GetTaskStepStates(ctx, result.TaskID)
		require.NoError(t, err)
		state := states["fetch_metadata"]
		assert.Equal(t, models.StepStatusCompleted, state.Status)
		assert.Equal(t, `{"title":"t"}`, state.OutputJSON)
		assert.NotNil(t, state.FinishedAt)
		assert.NotNil(t, state.DurationMs)
	})

	t.Run("restart bumps attempt and keeps output", func(t *testing.T) {
		require.NoError(t, s.MarkStepStart(ctx, result.TaskID, result.ProjectID, "fetch_metadata"))

		states, err := s.GetTaskStepStates(ctx, result.TaskID)
		require.NoError(t, err)
		state := states["fetch_metadata"]
		assert.Equal(t, models.StepStatusRunning, state.Status)
		assert.Equal(t, 2, state.Attempt)
		assert.Nil(t, state.FinishedAt)
		assert.Nil(t, state.DurationMs)
		assert.Equal(t, `{"title":"t"}`, state.OutputJSON)
	})

	t.Run("failed end with empty output keeps checkpoint", func(t *testing.T) {
		_, err := s.MarkStepEnd(ctx, result.TaskID, result.ProjectID, "fetch_metadata",
			models.StepStatusFailed, "network unreachable", "")
		require.NoError(t, err)

		states, err := s.GetTaskStepStates(ctx, result.TaskID)
		require.NoError(t, err)
		state := states["fetch_metadata"]
		assert.Equal(t, models.StepStatusFailed, state.Status)
		assert.Equal(t, "network unreachable", state.ErrorMessage)
		assert.Equal(t, `{"title":"t"}`, state.OutputJSON)
	})

	t.Run("end without start is not found", func(t *testing.T) {
		_, err := s.MarkStepEnd(ctx, result.TaskID, result.ProjectID, "build_vtt",
			models.StepStatusCompleted, "", "")
		var notFound *errs.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestRequestTaskCancel(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	t.Run("queued task cancels immediately", func(t *testing.T) {
		result := submitTestProject(t, s, "BVfffffffff1")

		status, err := s.RequestTaskCancel(ctx, result.TaskID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCanceled, status)

		detail, err := s.GetTaskByID(ctx, result.TaskID)
		require.NoError(t, err)
		assert.NotNil(t, detail.Task.CanceledAt)
		assert.NotNil(t, detail.Task.FinishedAt)

		project, err := s.GetProjectByID(ctx, result.ProjectID)
		require.NoError(t, err)
		assert.Equal(t, models.ProjectStatusCanceled, project.Project.Status)
	})

	t.Run("running task moves to canceling", func(t *testing.T) {
		result := submitTestProject(t, s, "BVfffffffff2")
		require.NoError(t, s.UpdateTaskProgress(ctx, TaskProgressUpdate{
			TaskID: result.TaskID, Status: models.TaskStatusRunning, Step: "run_asr", Percent: 55, Message: "ASR running",
		}))

		status, err := s.RequestTaskCancel(ctx, result.TaskID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCanceling, status)

		requested, err := s.IsTaskCancelRequested(ctx, result.TaskID)
		require.NoError(t, err)
		assert.True(t, requested)

		// A second request is idempotent.
		status, err = s.RequestTaskCancel(ctx, result.TaskID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCanceling, status)

		// Step rows are untouched by the request; the runner finishes them.
		states, err := s.GetTaskStepStates(ctx, result.TaskID)
		require.NoError(t, err)
		assert.Empty(t, states)
	})

	t.Run("terminal task is untouched", func(t *testing.T) {
		result := submitTestProject(t, s, "BVfffffffff3")
		require.NoError(t, s.UpdateTaskProgress(ctx, TaskProgressUpdate{
			TaskID: result.TaskID, Status: models.TaskStatusCompleted, Step: models.TaskStepDone, Percent: 100, Message: "Done",
		}))

		status, err := s.RequestTaskCancel(ctx, result.TaskID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCompleted, status)
	})

	t.Run("unknown task is not found", func(t *testing.T) {
		_, err := s.RequestTaskCancel(ctx, models.NewULID())
		var notFound *errs.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestMarkTaskCanceled(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	result := submitTestProject(t, s, "BVggggggggg1")

	require.NoError(t, s.UpdateTaskProgress(ctx, TaskProgressUpdate{
		TaskID: result.TaskID, Status: models.TaskStatusRunning, Step: "download_video", Percent: 25, Message: "Downloading",
	}))
	_, err := s.RequestTaskCancel(ctx, result.TaskID)
	require.NoError(t, err)

	require.NoError(t, s.MarkTaskCanceled(ctx, result.TaskID, "Task canceled during download_video", "download_video", 25))

	detail, err := s.GetTaskByID(ctx, result.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCanceled, detail.Task.Status)
	assert.Equal(t, "download_video", detail.Task.CurrentStep)
	assert.NotNil(t, detail.Task.CanceledAt)
	assert.NotNil(t, detail.Task.FinishedAt)

	project, err := s.GetProjectByID(ctx, result.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusCanceled, project.Project.Status)
}

func TestRetryTask(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	t.Run("running task cannot be retried", func(t *testing.T) {
		result := submitTestProject(t, s, "BVhhhhhhhhh1")
		require.NoError(t, s.UpdateTaskProgress(ctx, TaskProgressUpdate{
			TaskID: result.TaskID, Status: models.TaskStatusRunning, Step: "run_asr", Percent: 55, Message: "ASR",
		}))

		_, err := s.RetryTask(ctx, result.TaskID)
		require.Error(t, err)
		var validation *errs.ValidationError
		assert.ErrorAs(t, err, &validation)
	})

	t.Run("failed task requeues and preserves completed steps", func(t *testing.T) {
		result := submitTestProject(t, s, "BVhhhhhhhhh2")

		require.NoError(t, s.MarkStepStart(ctx, result.TaskID, result.ProjectID, "fetch_metadata"))
		_, err := s.MarkStepEnd(ctx, result.TaskID, result.ProjectID, "fetch_metadata",
			models.StepStatusCompleted, "", `{"title":"kept"}`)
		require.NoError(t, err)

		require.NoError(t, s.MarkStepStart(ctx, result.TaskID, result.ProjectID, "download_video"))
		_, err = s.MarkStepEnd(ctx, result.TaskID, result.ProjectID, "download_video",
			models.StepStatusFailed, "exit status 1", "")
		require.NoError(t, err)

		// Crash leftovers stay in running; a retry resets them too.
		require.NoError(t, s.MarkStepStart(ctx, result.TaskID, result.ProjectID, "extract_audio"))

		require.NoError(t, s.UpdateTaskProgress(ctx, TaskProgressUpdate{
			TaskID: result.TaskID, Status: models.TaskStatusFailed, Step: "download_video", Percent: 25,
			Message: "Download failed", ErrorMessage: "exit status 1",
		}))

		retried, err := s.RetryTask(ctx, result.TaskID)
		require.NoError(t, err)
		assert.Equal(t, result.TaskID, retried.TaskID)
		assert.Equal(t, result.ProjectID, retried.ProjectID)

		detail, err := s.GetTaskByID(ctx, result.TaskID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusQueued, detail.Task.Status)
		assert.Equal(t, models.TaskStepRetry, detail.Task.CurrentStep)
		assert.Equal(t, 0, detail.Task.ProgressPercent)
		assert.Empty(t, detail.Task.ErrorMessage)
		assert.Nil(t, detail.Task.StartedAt)
		assert.Nil(t, detail.Task.FinishedAt)
		assert.Nil(t, detail.Task.CancelRequestedAt)
		assert.Nil(t, detail.Task.CanceledAt)

		project, err := s.GetProjectByID(ctx, result.ProjectID)
		require.NoError(t, err)
		assert.Equal(t, models.ProjectStatusQueued, project.Project.Status)

		states, err := s.GetTaskStepStates(ctx, result.TaskID)
		require.NoError(t, err)

		kept := states["fetch_metadata"]
		require.NotNil(t, kept)
		assert.Equal(t, models.StepStatusCompleted, kept.Status)
		assert.Equal(t, `{"title":"kept"}`, kept.OutputJSON)

		failed := states["download_video"]
		require.NotNil(t, failed)
		assert.Equal(t, models.StepStatusPending, failed.Status)
		assert.Equal(t, 1, failed.Attempt)
		assert.Nil(t, failed.StartedAt)
		assert.Nil(t, failed.FinishedAt)
		assert.Empty(t, failed.ErrorMessage)

		crashed := states["extract_audio"]
		require.NotNil(t, crashed)
		assert.Equal(t, models.StepStatusPending, crashed.Status)
	})

	t.Run("canceled task can be retried", func(t *testing.T) {
		result := submitTestProject(t, s, "BVhhhhhhhhh3")
		_, err := s.RequestTaskCancel(ctx, result.TaskID)
		require.NoError(t, err)

		retried, err := s.RetryTask(ctx, result.TaskID)
		require.NoError(t, err)

		requested, err := s.IsTaskCancelRequested(ctx, retried.TaskID)
		require.NoError(t, err)
		assert.False(t, requested)
	})
}

func TestGetInterruptedTasks(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	running := submitTestProject(t, s, "BViiiiiiiii1")
	require.NoError(t, s.UpdateTaskProgress(ctx, TaskProgressUpdate{
		TaskID: running.TaskID, Status: models.TaskStatusRunning, Step: "run_asr", Percent: 55, Message: "ASR",
	}))

	time.Sleep(2 * time.Millisecond) // created_at has millisecond resolution
	canceling := submitTestProject(t, s, "BViiiiiiiii2")
	require.NoError(t, s.UpdateTaskProgress(ctx, TaskProgressUpdate{
		TaskID: canceling.TaskID, Status: models.TaskStatusRunning, Step: "download_video", Percent: 25, Message: "Downloading",
	}))
	_, err := s.RequestTaskCancel(ctx, canceling.TaskID)
	require.NoError(t, err)

	submitTestProject(t, s, "BViiiiiiiii3") // queued, not interrupted

	interrupted, err := s.GetInterruptedTasks(ctx)
	require.NoError(t, err)
	require.Len(t, interrupted, 2)
	// Oldest first.
	assert.Equal(t, running.TaskID, interrupted[0].ID)
	assert.Equal(t, canceling.TaskID, interrupted[1].ID)
}

func TestDeleteProject(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	result := submitTestProject(t, s, "BVjjjjjjjjj1")
	other := submitTestProject(t, s, "BVjjjjjjjjj2")

	require.NoError(t, s.MarkStepStart(ctx, result.TaskID, result.ProjectID, "fetch_metadata"))
	require.NoError(t, s.UpsertWatchProgress(ctx, result.ProjectID, "viewer-1", 12.5, 600))

	require.NoError(t, s.DeleteProject(ctx, result.ProjectID))

	detail, err := s.GetProjectByID(ctx, result.ProjectID)
	require.NoError(t, err)
	assert.Nil(t, detail)

	task, err := s.GetTaskByID(ctx, result.TaskID)
	require.NoError(t, err)
	assert.Nil(t, task)

	progress, err := s.GetWatchProgress(ctx, result.ProjectID, "viewer-1")
	require.NoError(t, err)
	assert.Nil(t, progress)

	// Unrelated project survives.
	kept, err := s.GetProjectByID(ctx, other.ProjectID)
	require.NoError(t, err)
	require.NotNil(t, kept)

	t.Run("missing project is not found", func(t *testing.T) {
		err := s.DeleteProject(ctx, result.ProjectID)
		var notFound *errs.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestWatchProgress(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	result := submitTestProject(t, s, "BVkkkkkkkkk1")

	t.Run("insert then overwrite", func(t *testing.T) {
		require.NoError(t, s.UpsertWatchProgress(ctx, result.ProjectID, "viewer-1", 10, 600))
		require.NoError(t, s.UpsertWatchProgress(ctx, result.ProjectID, "viewer-1", 42.5, 600))

		progress, err := s.GetWatchProgress(ctx, result.ProjectID, "viewer-1")
		require.NoError(t, err)
		require.NotNil(t, progress)
		assert.Equal(t, 42.5, progress.PositionSec)
		assert.Equal(t, float64(600), progress.DurationSec)
	})

	t.Run("viewers are independent", func(t *testing.T) {
		require.NoError(t, s.UpsertWatchProgress(ctx, result.ProjectID, "viewer-2", 99, 600))

		progress, err := s.GetWatchProgress(ctx, result.ProjectID, "viewer-1")
		require.NoError(t, err)
		assert.Equal(t, 42.5, progress.PositionSec)
	})

	t.Run("unknown project is not found", func(t *testing.T) {
		err := s.UpsertWatchProgress(ctx, models.NewULID(), "viewer-1", 1, 1)
		var notFound *errs.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("unknown viewer reads nil", func(t *testing.T) {
		progress, err := s.GetWatchProgress(ctx, result.ProjectID, "nobody")
		require.NoError(t, err)
		assert.Nil(t, progress)
	})
}

func TestAppendTaskEvent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	result := submitTestProject(t, s, "BVlllllllll1")

	t.Run("defaults fill empty fields", func(t *testing.T) {
		time.Sleep(2 * time.Millisecond)
		require.NoError(t, s.AppendTaskEvent(ctx, EventInput{
			TaskID:    result.TaskID,
			ProjectID: result.ProjectID,
			Message:   "hello",
		}))

		detail, err := s.GetTaskByID(ctx, result.TaskID)
		require.NoError(t, err)
		event := detail.Events[0]
		assert.Equal(t, models.EventStepSystem, event.Step)
		assert.Equal(t, models.EventTypeSystem, event.EventType)
		assert.Equal(t, models.EventLevelInfo, event.Level)
	})

	t.Run("long messages are truncated", func(t *testing.T) {
		time.Sleep(2 * time.Millisecond)
		require.NoError(t, s.AppendTaskEvent(ctx, EventInput{
			TaskID:    result.TaskID,
			ProjectID: result.ProjectID,
			Step:      "run_asr",
			EventType: models.EventTypeLog,
			Level:     models.EventLevelTrace,
			Message:   strings.Repeat("x", 2000),
		}))

		detail, err := s.GetTaskByID(ctx, result.TaskID)
		require.NoError(t, err)
		event := detail.Events[0]
		assert.LessOrEqual(t, len([]rune(event.Message)), models.EventMessageLimit+40)
		assert.Contains(t, event.Message, "[truncated 400 chars]")
	})
}
