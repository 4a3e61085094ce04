package models

import (
	"fmt"

	"gorm.io/gorm"
)

// EventType classifies task event rows.
type EventType string

const (
	// EventTypeStepStart marks the beginning of a pipeline step attempt.
	EventTypeStepStart EventType = "step_start"
	// EventTypeStepEnd marks the end of a pipeline step attempt.
	EventTypeStepEnd EventType = "step_end"
	// EventTypeLog is a plain progress message.
	EventTypeLog EventType = "log"
	// EventTypeError is a failure message.
	EventTypeError EventType = "error"
	// EventTypeSystem is a lifecycle message emitted outside step execution.
	EventTypeSystem EventType = "system"
)

// EventLevel is the severity of a task event.
type EventLevel string

const (
	// EventLevelTrace is subprocess stdout chatter.
	EventLevelTrace EventLevel = "trace"
	// EventLevelDebug is subprocess stderr chatter and checkpoint skips.
	EventLevelDebug EventLevel = "debug"
	// EventLevelInfo is regular progress.
	EventLevelInfo EventLevel = "info"
	// EventLevelWarn is a recoverable anomaly, e.g. a cancel request.
	EventLevelWarn EventLevel = "warn"
	// EventLevelError is a failure.
	EventLevelError EventLevel = "error"
)

// EventStepSystem is the synthetic step name for events emitted outside
// pipeline step execution (submission, retry, restart recovery).
const EventStepSystem = "system"

// EventMessageLimit is the maximum stored length of an event message in
// characters. Longer messages are cut and suffixed with a truncation marker.
const EventMessageLimit = 1600

// TruncateEventMessage bounds msg to EventMessageLimit characters, appending
// "...[truncated N chars]" when anything was cut.
func TruncateEventMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= EventMessageLimit {
		return msg
	}
	cut := len(runes) - EventMessageLimit
	return string(runes[:EventMessageLimit]) + fmt.Sprintf("...[truncated %d chars]", cut)
}

// TaskEvent is one append-only timeline entry for a task. Events are never
// updated or deleted except by project cascade delete; ordering by CreatedAt
// is the canonical timeline.
type TaskEvent struct {
	BaseModel

	// TaskID is the task this event belongs to.
	TaskID ULID `gorm:"not null;type:varchar(26);index" json:"task_id"`

	// ProjectID denormalizes the owning project for cascade deletes.
	ProjectID ULID `gorm:"not null;type:varchar(26);index" json:"project_id"`

	// Step is the pipeline step the event happened in, or EventStepSystem.
	Step string `gorm:"not null;default:'system';size:50" json:"step"`

	// EventType classifies the event.
	EventType EventType `gorm:"not null;default:'system';size:20" json:"event_type"`

	// Level is the severity.
	Level EventLevel `gorm:"not null;default:'info';size:10" json:"level"`

	// Message is the event text, bounded to EventMessageLimit characters.
	Message string `gorm:"size:2048" json:"message"`

	// Percent is the task progress when the event was recorded.
	Percent int `gorm:"default:0" json:"percent"`

	// DurationMs carries the step duration on step_end events.
	DurationMs *int64 `json:"duration_ms,omitempty"`

	// ErrorMessage carries the failure detail on error events.
	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`
}

// TableName returns the table name for TaskEvent.
func (TaskEvent) TableName() string {
	return "task_events"
}

// Validate performs basic validation on the event.
func (e *TaskEvent) Validate() error {
	if e.TaskID.IsZero() {
		return ErrTaskIDRequired
	}
	if e.ProjectID.IsZero() {
		return ErrProjectIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the event and generates a ULID.
func (e *TaskEvent) BeforeCreate(tx *gorm.DB) error {
	if err := e.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return e.Validate()
}
