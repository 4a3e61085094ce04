package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStepState_IsCompleted(t *testing.T) {
	for _, status := range []StepStatus{
		StepStatusPending, StepStatusRunning, StepStatusFailed, StepStatusCanceled,
	} {
		s := &TaskStepState{Status: status}
		assert.False(t, s.IsCompleted(), "%s should not count as completed", status)
	}

	s := &TaskStepState{Status: StepStatusCompleted}
	assert.True(t, s.IsCompleted())
}

func TestTaskStepState_Validate(t *testing.T) {
	taskID := NewULID()
	projectID := NewULID()

	tests := []struct {
		name    string
		state   TaskStepState
		wantErr error
	}{
		{"valid", TaskStepState{TaskID: taskID, ProjectID: projectID, Step: "run_asr"}, nil},
		{"missing task id", TaskStepState{ProjectID: projectID, Step: "run_asr"}, ErrTaskIDRequired},
		{"missing step", TaskStepState{TaskID: taskID, ProjectID: projectID}, ErrStepRequired},
		{"missing project id", TaskStepState{TaskID: taskID, Step: "run_asr"}, ErrProjectIDRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
