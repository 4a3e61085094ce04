// Package errs defines the behavioral error kinds used across grillmaster.
//
// Errors are classified by how callers must react, not by where they were
// produced: validation errors map to 400 responses, conflicts to 409,
// missing rows to 404, infrastructure failures to 500. Pipeline errors
// additionally carry the failing step and a retryable flag consumed by the
// retry helper.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCanceled marks cooperative cancellation. It is not a failure from the
// user's perspective; the runner converts it into terminal canceled state.
var ErrCanceled = errors.New("task canceled")

// ValidationError reports unusable caller input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NewValidation creates a ValidationError with a formatted message.
func NewValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a uniqueness violation, e.g. a duplicate project.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// NewConflict creates a ConflictError with a formatted message.
func NewConflict(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// NewNotFound creates a NotFoundError for the given entity and id.
func NewNotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// InfrastructureError reports a database, filesystem, or configuration
// failure that no retry at this level can fix.
type InfrastructureError struct {
	Message string
	Err     error
}

func (e *InfrastructureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// NewInfrastructure wraps err as an infrastructure failure.
func NewInfrastructure(message string, err error) *InfrastructureError {
	return &InfrastructureError{Message: message, Err: err}
}

// MissingCredentials reports live-mode configuration gaps, naming every
// missing variable so the operator can fix them in one pass.
func MissingCredentials(names []string) *InfrastructureError {
	return &InfrastructureError{
		Message: "missing required credentials: " + strings.Join(names, ", "),
	}
}

// PipelineError is a step failure. Retryable errors are re-attempted inside
// the step by the retry helper; non-retryable ones escalate immediately.
type PipelineError struct {
	Step      string
	Message   string
	Retryable bool
	Err       error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Step, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Step, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipeline creates a PipelineError for step with the given retry class.
func NewPipeline(step, message string, retryable bool, err error) *PipelineError {
	return &PipelineError{Step: step, Message: message, Retryable: retryable, Err: err}
}

// IsRetryable reports whether err carries a retryable pipeline
// classification. Anything that is not an explicitly retryable
// PipelineError is final.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsCanceled reports whether err is (or wraps) ErrCanceled.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// RetryableHTTPStatus classifies an HTTP status code for provider calls:
// 429 and 5xx are transient, every other 4xx is final.
func RetryableHTTPStatus(code int) bool {
	if code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}
