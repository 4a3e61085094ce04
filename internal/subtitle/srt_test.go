package subtitle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:03,500
こんにちは

2
00:00:04,000 --> 00:00:06,250
今日は焼肉です
二行目もあります
`

func TestFormatSRTTime(t *testing.T) {
	assert.Equal(t, "00:00:00,000", FormatSRTTime(0))
	assert.Equal(t, "00:00:01,500", FormatSRTTime(1500))
	assert.Equal(t, "01:02:03,456", FormatSRTTime(3723456))
	assert.Equal(t, "00:00:00,000", FormatSRTTime(-5))
}

func TestParseSRTTime(t *testing.T) {
	ms, err := ParseSRTTime("01:02:03,456")
	require.NoError(t, err)
	assert.Equal(t, int64(3723456), ms)

	ms, err = ParseSRTTime("00:00:01.500") // VTT dot variant
	require.NoError(t, err)
	assert.Equal(t, int64(1500), ms)

	_, err = ParseSRTTime("not a time")
	assert.Error(t, err)
}

func TestParseSRT(t *testing.T) {
	cues, err := ParseSRT(sampleSRT)
	require.NoError(t, err)
	require.Len(t, cues, 2)

	assert.Equal(t, 1, cues[0].Index)
	assert.Equal(t, int64(1000), cues[0].StartMs)
	assert.Equal(t, int64(3500), cues[0].EndMs)
	assert.Equal(t, "こんにちは", cues[0].Text)

	assert.Equal(t, "今日は焼肉です\n二行目もあります", cues[1].Text)

	t.Run("handles CRLF input", func(t *testing.T) {
		crlf := strings.ReplaceAll(sampleSRT, "\n", "\r\n")
		cues, err := ParseSRT(crlf)
		require.NoError(t, err)
		assert.Len(t, cues, 2)
		assert.Equal(t, "こんにちは", cues[0].Text)
	})

	t.Run("handles missing cue numbers", func(t *testing.T) {
		cues, err := ParseSRT("00:00:01,000 --> 00:00:02,000\nテキスト\n")
		require.NoError(t, err)
		require.Len(t, cues, 1)
		assert.Equal(t, "テキスト", cues[0].Text)
	})

	t.Run("rejects invalid timing", func(t *testing.T) {
		_, err := ParseSRT("1\n00:00:01 --> later\ntext\n")
		assert.Error(t, err)
	})
}

func TestRenderSRT(t *testing.T) {
	cues := []Cue{
		{StartMs: 1000, EndMs: 3500, Text: "こんにちは"},
		{StartMs: 4000, EndMs: 6250, Text: "今日は焼肉です"},
		{StartMs: 7000, EndMs: 8000, Text: "  "}, // dropped
	}

	out := RenderSRT(cues)
	assert.Equal(t, "1\n00:00:01,000 --> 00:00:03,500\nこんにちは\n\n2\n00:00:04,000 --> 00:00:06,250\n今日は焼肉です\n", out)

	t.Run("round trips", func(t *testing.T) {
		parsed, err := ParseSRT(out)
		require.NoError(t, err)
		require.Len(t, parsed, 2)
		assert.Equal(t, cues[0].Text, parsed[0].Text)
		assert.Equal(t, cues[1].StartMs, parsed[1].StartMs)
	})
}

func TestSRTToVTT(t *testing.T) {
	vtt := SRTToVTT("1\r\n00:00:01,000 --> 00:00:03,500\r\nはい、そうです\r\n")

	assert.True(t, strings.HasPrefix(vtt, "WEBVTT\n\n"))
	assert.Contains(t, vtt, "00:00:01.000 --> 00:00:03.500")
	assert.NotContains(t, vtt, "\r\n")
	// Commas inside cue text stay commas.
	assert.Contains(t, vtt, "はい、そうです")
}
