// Package pipeline executes translation tasks: a single-worker FIFO queue
// drains submitted tasks through the fixed step sequence, checkpointing
// every step so a crashed or retried task resumes where it left off.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/grillmaster/grillmaster/internal/config"
	"github.com/grillmaster/grillmaster/internal/errs"
	"github.com/grillmaster/grillmaster/internal/eventlog"
	"github.com/grillmaster/grillmaster/internal/models"
	"github.com/grillmaster/grillmaster/internal/providers"
	"github.com/grillmaster/grillmaster/internal/source"
	"github.com/grillmaster/grillmaster/internal/store"
	"github.com/grillmaster/grillmaster/internal/util"
)

// queueCapacity bounds the submission backlog. Submissions beyond this are
// rejected rather than blocking the HTTP handler.
const queueCapacity = 256

const canceledByUser = "Task canceled by user"

// QueueItem identifies one queued task.
type QueueItem struct {
	TaskID    models.ULID
	ProjectID models.ULID
}

// Config assembles a Runner.
type Config struct {
	Store      *store.Store
	Pipeline   config.PipelineConfig
	ASR        providers.ASRProvider
	Translator providers.Translator
	Logger     *slog.Logger

	// EventOut receives the per-task console stream. Defaults to os.Stdout.
	EventOut io.Writer
}

// Runner owns the task queue and the single worker goroutine.
type Runner struct {
	store      *store.Store
	cfg        config.PipelineConfig
	asr        providers.ASRProvider
	translator providers.Translator
	logger     *slog.Logger
	out        io.Writer

	ytdlpBin  string
	ffmpegBin string

	queue  chan QueueItem
	mu     sync.Mutex
	queued map[models.ULID]struct{}
	active bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a runner, sweeps tasks interrupted by the previous shutdown,
// and starts the worker goroutine.
func New(cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("pipeline runner requires a store")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.EventOut == nil {
		cfg.EventOut = os.Stdout
	}

	ytdlp, err := util.FindBinary(cfg.Pipeline.YtDlpBin, "YT_DLP_BIN")
	if err != nil {
		return nil, fmt.Errorf("resolving yt-dlp: %w", err)
	}
	ffmpeg, err := util.FindBinary(cfg.Pipeline.FFmpegBin, "FFMPEG_BIN")
	if err != nil {
		return nil, fmt.Errorf("resolving ffmpeg: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		store:      cfg.Store,
		cfg:        cfg.Pipeline,
		asr:        cfg.ASR,
		translator: cfg.Translator,
		logger:     cfg.Logger,
		out:        cfg.EventOut,
		ytdlpBin:   ytdlp,
		ffmpegBin:  ffmpeg,
		queue:      make(chan QueueItem, queueCapacity),
		queued:     make(map[models.ULID]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	if err := r.recoverInterrupted(ctx); err != nil {
		cancel()
		return nil, err
	}

	go r.consume()
	return r, nil
}

// Enqueue queues a task for execution. It returns false when the task is
// already queued or the backlog is full; it never blocks.
func (r *Runner) Enqueue(item QueueItem) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.queued[item.TaskID]; dup {
		return false
	}

	select {
	case r.queue <- item:
		r.queued[item.TaskID] = struct{}{}
		return true
	default:
		r.logger.Warn("task queue full, rejecting enqueue",
			slog.String("task_id", item.TaskID.String()))
		return false
	}
}

// QueueDepth returns the number of queued tasks, including the running one.
func (r *Runner) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queued)
}

// Active reports whether a task is executing right now.
func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Stop cancels the worker and waits for it to exit. A task interrupted here
// stays in running state; the next boot's recovery sweep settles it.
func (r *Runner) Stop() {
	r.cancel()
	<-r.done
}

func (r *Runner) consume() {
	defer close(r.done)

	for {
		select {
		case <-r.ctx.Done():
			return
		case item := <-r.queue:
			r.setActive(true)
			if err := r.runTask(r.ctx, item); err != nil {
				// The failure is already persisted on the task; this log is
				// for the operator console only.
				r.logger.Error("task run failed",
					slog.String("task_id", item.TaskID.String()),
					slog.String("error", err.Error()))
			}
			r.setActive(false)
			r.dequeued(item.TaskID)
		}
	}
}

func (r *Runner) setActive(v bool) {
	r.mu.Lock()
	r.active = v
	r.mu.Unlock()
}

func (r *Runner) dequeued(taskID models.ULID) {
	r.mu.Lock()
	delete(r.queued, taskID)
	r.mu.Unlock()
}

// recoverInterrupted settles tasks the previous process left in flight.
// Running tasks become failed, canceling tasks become canceled; nothing is
// re-enqueued automatically.
func (r *Runner) recoverInterrupted(ctx context.Context) error {
	tasks, err := r.store.GetInterruptedTasks(ctx)
	if err != nil {
		return fmt.Errorf("loading interrupted tasks: %w", err)
	}

	for _, task := range tasks {
		switch task.Status {
		case models.TaskStatusRunning:
			err = r.store.UpdateTaskProgress(ctx, store.TaskProgressUpdate{
				TaskID:       task.ID,
				Status:       models.TaskStatusFailed,
				Step:         task.CurrentStep,
				Percent:      task.ProgressPercent,
				Message:      "Task execution interrupted by server restart",
				EventType:    models.EventTypeError,
				Level:        models.EventLevelError,
				ErrorMessage: "Server restart detected while task was running",
			})
			if err == nil {
				err = r.store.UpdateProjectFromPipeline(ctx, task.ProjectID, store.ProjectPatch{
					Status: statusPtr(models.ProjectStatusFailed),
				})
			}
		case models.TaskStatusCanceling:
			err = r.store.MarkTaskCanceled(ctx, task.ID,
				"Task canceled by user (processed after restart)",
				task.CurrentStep, task.ProgressPercent)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("recovering task %s: %w", task.ID, err)
		}
		r.logger.Info("settled interrupted task",
			slog.String("task_id", task.ID.String()),
			slog.String("was", string(task.Status)))
	}
	return nil
}

// runTask drives one task through the step sequence.
func (r *Runner) runTask(ctx context.Context, item QueueItem) error {
	detail, err := r.store.GetTaskByID(ctx, item.TaskID)
	if err != nil {
		return err
	}
	if detail == nil || detail.Task.Status == models.TaskStatusCanceled {
		return nil
	}
	task := detail.Task

	projectDetail, err := r.store.GetProjectByID(ctx, task.ProjectID)
	if err != nil {
		return err
	}
	if projectDetail == nil {
		return r.store.UpdateTaskProgress(ctx, store.TaskProgressUpdate{
			TaskID:       task.ID,
			Status:       models.TaskStatusFailed,
			Step:         task.CurrentStep,
			Percent:      task.ProgressPercent,
			Message:      "Project no longer exists",
			EventType:    models.EventTypeError,
			Level:        models.EventLevelError,
			ErrorMessage: fmt.Sprintf("project %s not found", task.ProjectID),
		})
	}
	project := projectDetail.Project

	projectDir := filepath.Join(r.cfg.ProjectsDir, project.ID.String())
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("creating project directory: %w", err)
	}

	states, err := r.store.GetTaskStepStates(ctx, task.ID)
	if err != nil {
		return err
	}

	sc := &StepContext{
		Item:              item,
		ProjectDir:        projectDir,
		SourceURL:         source.CanonicalURL(project.Source, project.SourceVideoID, project.OriginalInput),
		VideoPath:         filepath.Join(projectDir, videoFile),
		AudioPath:         filepath.Join(projectDir, audioFile),
		ASRJSONPath:       filepath.Join(projectDir, asrJSONFile),
		ASRSRTPath:        filepath.Join(projectDir, asrSRTFile),
		TranslatedSRTPath: filepath.Join(projectDir, translatedSRTFile),
		TranslatedVTTPath: filepath.Join(projectDir, translatedVTTFile),
		States:            states,
	}

	taskLogger := eventlog.New(r.store, r.out, task.ID, project.ID).WithSlog(r.logger)

	for _, step := range stepTable {
		stepLogger := taskLogger.Step(step.ID, step.Percent)

		canceled, err := r.settleIfCancelRequested(ctx, task.ID, step.ID, step.Percent)
		if err != nil {
			return err
		}
		if canceled {
			return nil
		}

		if state, ok := sc.States[step.ID]; ok && state.Status == models.StepStatusCompleted {
			stepLogger.Debug(ctx, fmt.Sprintf("Step %s already completed, skipping", step.ID))
			continue
		}

		if err := r.store.UpdateProjectFromPipeline(ctx, project.ID, store.ProjectPatch{
			Status: statusPtr(step.ProjectStatus),
		}); err != nil {
			return err
		}
		if err := r.store.UpdateTaskProgress(ctx, store.TaskProgressUpdate{
			TaskID:  task.ID,
			Status:  models.TaskStatusRunning,
			Step:    step.ID,
			Percent: step.Percent,
			Message: step.Message,
		}); err != nil {
			return err
		}

		if err := r.store.MarkStepStart(ctx, task.ID, project.ID, step.ID); err != nil {
			return err
		}
		if err := r.store.AppendTaskEvent(ctx, store.EventInput{
			TaskID:    task.ID,
			ProjectID: project.ID,
			Step:      step.ID,
			EventType: models.EventTypeStepStart,
			Level:     models.EventLevelInfo,
			Message:   step.Message,
			Percent:   step.Percent,
		}); err != nil {
			return err
		}

		output, runErr := step.Run(r, ctx, sc, stepLogger)
		if runErr != nil {
			if errs.IsCanceled(runErr) {
				return r.store.MarkTaskCanceled(ctx, task.ID, canceledByUser, step.ID, step.Percent)
			}
			return r.failStep(ctx, task.ID, project.ID, step, runErr, stepLogger)
		}

		outputJSON := marshalOutput(output, r.logger, step.ID)
		durationMs, err := r.store.MarkStepEnd(ctx, task.ID, project.ID, step.ID,
			models.StepStatusCompleted, "", outputJSON)
		if err != nil {
			return err
		}
		if err := r.store.AppendTaskEvent(ctx, store.EventInput{
			TaskID:     task.ID,
			ProjectID:  project.ID,
			Step:       step.ID,
			EventType:  models.EventTypeStepEnd,
			Level:      models.EventLevelInfo,
			Message:    fmt.Sprintf("Completed %s", step.ID),
			Percent:    step.Percent,
			DurationMs: &durationMs,
		}); err != nil {
			return err
		}

		if sc.States, err = r.store.GetTaskStepStates(ctx, task.ID); err != nil {
			return err
		}

		canceled, err = r.settleIfCancelRequested(ctx, task.ID, step.ID, step.Percent)
		if err != nil {
			return err
		}
		if canceled {
			return nil
		}
	}

	// finalize_project normally sets the project status; when every step was
	// skipped from checkpoints it never ran, so settle the project here too.
	if err := r.store.UpdateProjectFromPipeline(ctx, project.ID, store.ProjectPatch{
		Status: statusPtr(models.ProjectStatusCompleted),
	}); err != nil {
		return err
	}
	return r.store.UpdateTaskProgress(ctx, store.TaskProgressUpdate{
		TaskID:  task.ID,
		Status:  models.TaskStatusCompleted,
		Step:    models.TaskStepDone,
		Percent: 100,
		Message: "Pipeline completed",
	})
}

// settleIfCancelRequested finishes a pending cancel at a safe point.
func (r *Runner) settleIfCancelRequested(ctx context.Context, taskID models.ULID, step string, percent int) (bool, error) {
	requested, err := r.store.IsTaskCancelRequested(ctx, taskID)
	if err != nil {
		return false, err
	}
	if !requested {
		return false, nil
	}
	if err := r.store.MarkTaskCanceled(ctx, taskID, canceledByUser, step, percent); err != nil {
		return false, err
	}
	return true, nil
}

// failStep persists a step failure: checkpoint, project, task, event log.
// The returned error is the original step error for the consumer log.
func (r *Runner) failStep(ctx context.Context, taskID, projectID models.ULID, step stepDef, stepErr error, logger *eventlog.TaskLogger) error {
	if _, err := r.store.MarkStepEnd(ctx, taskID, projectID, step.ID,
		models.StepStatusFailed, stepErr.Error(), ""); err != nil {
		return err
	}
	if err := r.store.UpdateProjectFromPipeline(ctx, projectID, store.ProjectPatch{
		Status: statusPtr(models.ProjectStatusFailed),
	}); err != nil {
		return err
	}
	if err := r.store.UpdateTaskProgress(ctx, store.TaskProgressUpdate{
		TaskID:       taskID,
		Status:       models.TaskStatusFailed,
		Step:         step.ID,
		Percent:      step.Percent,
		Message:      fmt.Sprintf("Step %s failed", step.ID),
		EventType:    models.EventTypeError,
		Level:        models.EventLevelError,
		ErrorMessage: stepErr.Error(),
	}); err != nil {
		return err
	}
	logger.ErrorWith(ctx, fmt.Sprintf("Step %s failed", step.ID), stepErr.Error())
	return stepErr
}

// cancelPredicate adapts the store's cancel flag for subprocess polling.
// Lookup errors read as "not canceled"; the next safe-point check surfaces
// them properly.
func (r *Runner) cancelPredicate(ctx context.Context, taskID models.ULID) func() bool {
	return func() bool {
		requested, err := r.store.IsTaskCancelRequested(ctx, taskID)
		if err != nil {
			return false
		}
		return requested
	}
}

func statusPtr(s models.ProjectStatus) *models.ProjectStatus { return &s }
