package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable pipeline error", NewPipeline("run_asr", "poll timeout", true, nil), true},
		{"non-retryable pipeline error", NewPipeline("run_asr", "bad key", false, nil), false},
		{"wrapped retryable", fmt.Errorf("step failed: %w", NewPipeline("download_video", "network", true, nil)), true},
		{"plain error", errors.New("boom"), false},
		{"validation error", NewValidation("bad input"), false},
		{"nil inner error", NewPipeline("extract_audio", "exit 1", true, errors.New("exit status 1")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestKindPredicates(t *testing.T) {
	verr := NewValidation("sourceOrUrl must be at least %d characters", 2)
	cerr := NewConflict("project already exists for %s/%s", "bilibili", "BV18KBJBeEmV")
	nerr := NewNotFound("task", "01ABC")
	ierr := NewInfrastructure("opening database", errors.New("disk full"))

	assert.True(t, IsValidation(verr))
	assert.False(t, IsValidation(cerr))

	assert.True(t, IsConflict(cerr))
	assert.False(t, IsConflict(verr))

	assert.True(t, IsNotFound(nerr))
	assert.False(t, IsNotFound(ierr))

	// Predicates see through wrapping.
	wrapped := fmt.Errorf("submitting: %w", cerr)
	assert.True(t, IsConflict(wrapped))
}

func TestMissingCredentials(t *testing.T) {
	err := MissingCredentials([]string{"DASHSCOPE_API_KEY", "OSS_BUCKET"})
	assert.Contains(t, err.Error(), "DASHSCOPE_API_KEY")
	assert.Contains(t, err.Error(), "OSS_BUCKET")
}

func TestPipelineErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := NewPipeline("fetch_metadata", "yt-dlp failed", true, inner)

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "fetch_metadata")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIsCanceled(t *testing.T) {
	assert.True(t, IsCanceled(ErrCanceled))
	assert.True(t, IsCanceled(fmt.Errorf("step: %w", ErrCanceled)))
	assert.False(t, IsCanceled(errors.New("other")))
}

func TestRetryableHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{404, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{599, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RetryableHTTPStatus(tt.code), "status %d", tt.code)
	}
}
