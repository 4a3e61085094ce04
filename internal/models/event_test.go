package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateEventMessage(t *testing.T) {
	t.Run("short message unchanged", func(t *testing.T) {
		assert.Equal(t, "hello", TruncateEventMessage("hello"))
	})

	t.Run("exactly at limit unchanged", func(t *testing.T) {
		msg := strings.Repeat("a", EventMessageLimit)
		assert.Equal(t, msg, TruncateEventMessage(msg))
	})

	t.Run("one over limit", func(t *testing.T) {
		msg := strings.Repeat("a", EventMessageLimit+1)
		got := TruncateEventMessage(msg)
		assert.Equal(t, strings.Repeat("a", EventMessageLimit)+"...[truncated 1 chars]", got)
	})

	t.Run("large overflow reports cut size", func(t *testing.T) {
		msg := strings.Repeat("x", EventMessageLimit+5000)
		got := TruncateEventMessage(msg)
		assert.True(t, strings.HasSuffix(got, "...[truncated 5000 chars]"))
	})

	t.Run("counts runes not bytes", func(t *testing.T) {
		// 1601 three-byte runes: exactly one rune over the limit.
		msg := strings.Repeat("あ", EventMessageLimit+1)
		got := TruncateEventMessage(msg)
		assert.True(t, strings.HasSuffix(got, "...[truncated 1 chars]"))
		assert.Equal(t, EventMessageLimit, len([]rune(strings.TrimSuffix(got, "...[truncated 1 chars]"))))
	})

	t.Run("empty message", func(t *testing.T) {
		assert.Equal(t, "", TruncateEventMessage(""))
	})
}

func TestTaskEvent_Validate(t *testing.T) {
	valid := &TaskEvent{TaskID: NewULID(), ProjectID: NewULID()}
	assert.NoError(t, valid.Validate())

	noTask := &TaskEvent{ProjectID: NewULID()}
	assert.ErrorIs(t, noTask.Validate(), ErrTaskIDRequired)

	noProject := &TaskEvent{TaskID: NewULID()}
	assert.ErrorIs(t, noProject.Validate(), ErrProjectIDRequired)
}
