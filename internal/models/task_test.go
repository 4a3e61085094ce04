package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatus_IsTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCanceled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}

	active := []TaskStatus{TaskStatusQueued, TaskStatusRunning, TaskStatusCanceling}
	for _, s := range active {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestTask_CancelRequested(t *testing.T) {
	t.Run("no request", func(t *testing.T) {
		task := &Task{Status: TaskStatusRunning}
		assert.False(t, task.CancelRequested())
	})

	t.Run("timestamp set", func(t *testing.T) {
		task := &Task{Status: TaskStatusRunning, CancelRequestedAt: MillisPtr(NowMillis())}
		assert.True(t, task.CancelRequested())
	})

	t.Run("canceling status without timestamp", func(t *testing.T) {
		task := &Task{Status: TaskStatusCanceling}
		assert.True(t, task.CancelRequested())
	})
}

func TestTask_Validate(t *testing.T) {
	valid := &Task{ProjectID: NewULID(), Type: TaskTypePipeline}
	assert.NoError(t, valid.Validate())

	missing := &Task{Type: TaskTypePipeline}
	assert.ErrorIs(t, missing.Validate(), ErrProjectIDRequired)
}

func TestTask_BeforeCreate(t *testing.T) {
	task := &Task{ProjectID: NewULID()}
	err := task.BeforeCreate(nil)
	assert.NoError(t, err)
	assert.False(t, task.ID.IsZero())
}
