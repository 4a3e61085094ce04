package models

import "gorm.io/gorm"

// TaskType represents the kind of work a task performs.
type TaskType string

const (
	// TaskTypePipeline represents a full video processing pipeline run.
	TaskTypePipeline TaskType = "pipeline"
)

// TaskStatus represents the current status of a task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is waiting for the worker.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusRunning indicates the task is currently executing.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCanceling indicates a cancel request is waiting for the
	// runner to reach a safe point.
	TaskStatusCanceling TaskStatus = "canceling"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCanceled indicates the task was canceled.
	TaskStatusCanceled TaskStatus = "canceled"
)

// IsTerminal returns true once the task reached a final state.
// Terminal tasks are never resumed; a retry resets them to queued first.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCanceled
}

// Marker values for Task.CurrentStep outside of real pipeline steps.
const (
	// TaskStepSubmit is the current step of a freshly submitted task.
	TaskStepSubmit = "submit"
	// TaskStepRetry is the current step of a task reset by a retry request.
	TaskStepRetry = "retry"
	// TaskStepDone is the current step after the pipeline completed.
	TaskStepDone = "done"
)

// Task represents one pipeline execution for a project. A project may own
// several tasks over time (retries create no new rows, but historic failed
// runs remain visible), yet at most one of them is non-terminal.
type Task struct {
	BaseModel

	// ProjectID is the project this task processes.
	ProjectID ULID `gorm:"not null;type:varchar(26);index" json:"project_id"`

	// Type indicates what kind of task this is.
	Type TaskType `gorm:"not null;default:'pipeline';size:30" json:"type"`

	// Status indicates the current status of the task.
	Status TaskStatus `gorm:"not null;default:'queued';size:20;index" json:"status"`

	// CurrentStep is the pipeline step the task is in, or one of the
	// TaskStep* markers.
	CurrentStep string `gorm:"size:50" json:"current_step,omitempty"`

	// ProgressPercent is the coarse progress indicator, 0-100.
	ProgressPercent int `gorm:"default:0" json:"progress_percent"`

	// Message is the latest human-readable progress message.
	Message string `gorm:"size:2048" json:"message,omitempty"`

	// StartedAt is when the worker picked the task up, in epoch milliseconds.
	StartedAt *int64 `json:"started_at,omitempty"`

	// FinishedAt is when the task reached a terminal status, in epoch milliseconds.
	FinishedAt *int64 `json:"finished_at,omitempty"`

	// CancelRequestedAt is when a cancel was requested, in epoch milliseconds.
	// It stays set while the runner looks for a safe point.
	CancelRequestedAt *int64 `json:"cancel_requested_at,omitempty"`

	// CanceledAt is when the cancellation took effect, in epoch milliseconds.
	CanceledAt *int64 `json:"canceled_at,omitempty"`

	// ErrorMessage contains the failure reason for failed tasks.
	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// IsTerminal returns true once the task reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// CancelRequested returns true if a cancel has been asked for, whether or
// not the runner has acknowledged it yet.
func (t *Task) CancelRequested() bool {
	return t.CancelRequestedAt != nil || t.Status == TaskStatusCanceling
}

// Validate performs basic validation on the task.
func (t *Task) Validate() error {
	if t.ProjectID.IsZero() {
		return ErrProjectIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the task and generates a ULID.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if err := t.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return t.Validate()
}
