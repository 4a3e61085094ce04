package models

import "errors"

// Common validation errors for models.
var (
	// ErrSourceRequired indicates a required source field is empty.
	ErrSourceRequired = errors.New("source is required")

	// ErrInvalidSource indicates an unrecognised video source.
	ErrInvalidSource = errors.New("invalid source: must be 'bilibili', 'tver', 'youtube' or 'unknown'")

	// ErrSourceVideoIDRequired indicates a required source video ID field is empty.
	ErrSourceVideoIDRequired = errors.New("source_video_id is required")

	// ErrProjectIDRequired indicates a required project ID field is zero.
	ErrProjectIDRequired = errors.New("project_id is required")

	// ErrTaskIDRequired indicates a required task ID field is zero.
	ErrTaskIDRequired = errors.New("task_id is required")

	// ErrStepRequired indicates a required step field is empty.
	ErrStepRequired = errors.New("step is required")

	// ErrViewerIDRequired indicates a required viewer ID field is empty.
	ErrViewerIDRequired = errors.New("viewer_id is required")
)
