package models

import "gorm.io/gorm"

// StepStatus represents the checkpoint state of one pipeline step.
type StepStatus string

const (
	// StepStatusPending indicates the step has not started in the current run.
	StepStatusPending StepStatus = "pending"
	// StepStatusRunning indicates the step started and has not finished.
	// Rows stuck in running after a crash are evidence, not state: the
	// runner re-executes them on retry.
	StepStatusRunning StepStatus = "running"
	// StepStatusCompleted indicates the step finished and its output is
	// checkpointed. Completed steps are skipped on resume.
	StepStatusCompleted StepStatus = "completed"
	// StepStatusFailed indicates the step failed after exhausting retries.
	StepStatusFailed StepStatus = "failed"
	// StepStatusCanceled indicates the step was abandoned by a cancel.
	StepStatusCanceled StepStatus = "canceled"
)

// TaskStepState is the durable checkpoint for one (task, step) pair. The
// runner upserts it around every step execution; retries reuse the row and
// bump Attempt rather than inserting history rows.
type TaskStepState struct {
	BaseModel

	// TaskID is the task this checkpoint belongs to. Unique together with Step.
	TaskID ULID `gorm:"not null;type:varchar(26);uniqueIndex:idx_step_states_task_step" json:"task_id"`

	// Step is the pipeline step identifier.
	Step string `gorm:"not null;size:50;uniqueIndex:idx_step_states_task_step" json:"step"`

	// ProjectID denormalizes the owning project for cascade deletes.
	ProjectID ULID `gorm:"not null;type:varchar(26);index" json:"project_id"`

	// Status is the checkpoint state.
	Status StepStatus `gorm:"not null;default:'pending';size:20" json:"status"`

	// Attempt counts executions of this step across the task's lifetime,
	// including retries. Never reset.
	Attempt int `gorm:"default:0" json:"attempt"`

	// StartedAt is when the latest attempt began, in epoch milliseconds.
	StartedAt *int64 `json:"started_at,omitempty"`

	// FinishedAt is when the latest attempt ended, in epoch milliseconds.
	FinishedAt *int64 `json:"finished_at,omitempty"`

	// DurationMs is the wall time of the latest attempt.
	DurationMs *int64 `json:"duration_ms,omitempty"`

	// ErrorMessage contains the failure reason of the latest attempt.
	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`

	// OutputJSON is the step's checkpointed output as an opaque JSON blob,
	// decoded again when a later step or a resumed run needs it.
	OutputJSON string `gorm:"column:output_json;type:text" json:"output_json,omitempty"`
}

// TableName returns the table name for TaskStepState.
func (TaskStepState) TableName() string {
	return "task_step_states"
}

// IsCompleted returns true if the step finished successfully and may be
// skipped on resume.
func (s *TaskStepState) IsCompleted() bool {
	return s.Status == StepStatusCompleted
}

// Validate performs basic validation on the step state.
func (s *TaskStepState) Validate() error {
	if s.TaskID.IsZero() {
		return ErrTaskIDRequired
	}
	if s.Step == "" {
		return ErrStepRequired
	}
	if s.ProjectID.IsZero() {
		return ErrProjectIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the step state and generates a ULID.
func (s *TaskStepState) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}
