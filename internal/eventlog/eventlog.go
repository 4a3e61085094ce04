// Package eventlog writes task progress to two sinks at once: a human
// console line and a durable task event row. The console is best-effort
// diagnostics; the event row is the record the UI replays.
package eventlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/grillmaster/grillmaster/internal/models"
	"github.com/grillmaster/grillmaster/internal/store"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ANSI color per level, applied to the level token only.
var levelColors = map[models.EventLevel]string{
	models.EventLevelTrace: "\033[90m",
	models.EventLevelDebug: "\033[36m",
	models.EventLevelInfo:  "\033[32m",
	models.EventLevelWarn:  "\033[33m",
	models.EventLevelError: "\033[31m",
}

const colorReset = "\033[0m"

// TaskLogger emits scoped log lines for one task. Step returns a rebound
// copy, so a logger handed to a step cannot leak its scope back into the
// runner's logger.
type TaskLogger struct {
	store     *store.Store
	out       io.Writer
	slog      *slog.Logger
	taskID    models.ULID
	projectID models.ULID
	step      string
	percent   int
}

// New creates a TaskLogger scoped to one task. out defaults to stdout when
// nil; the step scope starts at the synthetic system step.
func New(st *store.Store, out io.Writer, taskID, projectID models.ULID) *TaskLogger {
	if out == nil {
		out = os.Stdout
	}
	return &TaskLogger{
		store:     st,
		out:       out,
		slog:      slog.Default(),
		taskID:    taskID,
		projectID: projectID,
		step:      models.EventStepSystem,
	}
}

// WithSlog sets the process logger used to report event append failures.
func (l *TaskLogger) WithSlog(logger *slog.Logger) *TaskLogger {
	l.slog = logger
	return l
}

// Step returns a copy of the logger rebound to the given step and progress.
func (l *TaskLogger) Step(step string, percent int) *TaskLogger {
	scoped := *l
	scoped.step = step
	scoped.percent = percent
	return &scoped
}

// Trace logs subprocess stdout chatter.
func (l *TaskLogger) Trace(ctx context.Context, msg string) {
	l.emit(ctx, models.EventLevelTrace, msg, "")
}

// Debug logs subprocess stderr chatter and checkpoint decisions.
func (l *TaskLogger) Debug(ctx context.Context, msg string) {
	l.emit(ctx, models.EventLevelDebug, msg, "")
}

// Info logs regular progress.
func (l *TaskLogger) Info(ctx context.Context, msg string) {
	l.emit(ctx, models.EventLevelInfo, msg, "")
}

// Warn logs a recoverable anomaly.
func (l *TaskLogger) Warn(ctx context.Context, msg string) {
	l.emit(ctx, models.EventLevelWarn, msg, "")
}

// Error logs a failure.
func (l *TaskLogger) Error(ctx context.Context, msg string) {
	l.emit(ctx, models.EventLevelError, msg, "")
}

// ErrorWith logs a failure with a separate error detail carried on the event.
func (l *TaskLogger) ErrorWith(ctx context.Context, msg, errMsg string) {
	l.emit(ctx, models.EventLevelError, msg, errMsg)
}

func (l *TaskLogger) emit(ctx context.Context, level models.EventLevel, msg, errMsg string) {
	msg = models.TruncateEventMessage(msg)

	color := levelColors[level]
	fmt.Fprintf(l.out, "[%s] %s[%s]%s [task:%s] [step:%s] %s\n",
		time.Now().Format(timestampLayout),
		color, level, colorReset,
		l.taskID, l.step, msg)

	eventType := models.EventTypeLog
	if level == models.EventLevelError {
		eventType = models.EventTypeError
	}

	// The event row is durable but never load-bearing for execution: a
	// failed append is reported and swallowed.
	err := l.store.AppendTaskEvent(ctx, store.EventInput{
		TaskID:       l.taskID,
		ProjectID:    l.projectID,
		Step:         l.step,
		EventType:    eventType,
		Level:        level,
		Message:      msg,
		Percent:      l.percent,
		ErrorMessage: errMsg,
	})
	if err != nil {
		l.slog.WarnContext(ctx, "appending task event failed",
			slog.String("task_id", l.taskID.String()),
			slog.String("step", l.step),
			slog.String("error", err.Error()),
		)
	}
}
