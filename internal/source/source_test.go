package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grillmaster/grillmaster/internal/errs"
	"github.com/grillmaster/grillmaster/internal/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantSource models.SourceType
		wantID     string
	}{
		{
			name:       "bilibili bare id",
			input:      "BV18KBJBeEmV",
			wantSource: models.SourceBilibili,
			wantID:     "BV18KBJBeEmV",
		},
		{
			name:       "bilibili lowercase prefix",
			input:      "bv18KBJBeEmV",
			wantSource: models.SourceBilibili,
			wantID:     "BV18KBJBeEmV",
		},
		{
			name:       "bilibili watch url",
			input:      "https://www.bilibili.com/video/BV18KBJBeEmV?p=2",
			wantSource: models.SourceBilibili,
			wantID:     "BV18KBJBeEmV",
		},
		{
			name:       "tver episode url",
			input:      "https://tver.jp/episodes/ep3a9b1c7d2",
			wantSource: models.SourceTver,
			wantID:     "ep3a9b1c7d2",
		},
		{
			name:       "youtube watch url",
			input:      "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			wantSource: models.SourceYouTube,
			wantID:     "dQw4w9WgXcQ",
		},
		{
			name:       "youtube short url",
			input:      "https://youtu.be/dQw4w9WgXcQ",
			wantSource: models.SourceYouTube,
			wantID:     "dQw4w9WgXcQ",
		},
		{
			name:       "bare identifier",
			input:      "some_video-id42",
			wantSource: models.SourceUnknown,
			wantID:     "some_video-id42",
		},
		{
			name:       "surrounding whitespace",
			input:      "  BV18KBJBeEmV\n",
			wantSource: models.SourceBilibili,
			wantID:     "BV18KBJBeEmV",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSource, parsed.Source)
			assert.Equal(t, tt.wantID, parsed.VideoID)
		})
	}

	t.Run("rejects unrecognised input", func(t *testing.T) {
		for _, input := range []string{
			"",
			"   ",
			"https://example.com/something-else",
			"short",
			"has spaces in it",
			"way-too-long-to-be-a-bare-identifier-for-sure",
		} {
			_, err := Parse(input)
			require.Error(t, err, "input %q", input)
			var ve *errs.ValidationError
			assert.ErrorAs(t, err, &ve, "input %q", input)
		}
	})
}

func TestCanonicalURL(t *testing.T) {
	t.Run("url input is kept verbatim", func(t *testing.T) {
		input := "https://www.bilibili.com/video/BV18KBJBeEmV?p=2"
		parsed, err := Parse(input)
		require.NoError(t, err)
		assert.Equal(t, input, CanonicalURL(parsed.Source, parsed.VideoID, parsed.OriginalInput))
	})

	t.Run("bare ids get canonical platform urls", func(t *testing.T) {
		assert.Equal(t, "https://www.bilibili.com/video/BV18KBJBeEmV",
			CanonicalURL(models.SourceBilibili, "BV18KBJBeEmV", "BV18KBJBeEmV"))
		assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			CanonicalURL(models.SourceYouTube, "dQw4w9WgXcQ", "dQw4w9WgXcQ"))
		assert.Equal(t, "some_video-id42",
			CanonicalURL(models.SourceUnknown, "some_video-id42", "some_video-id42"))
	})

	t.Run("canonical urls round trip", func(t *testing.T) {
		for _, in := range []struct {
			source models.SourceType
			id     string
		}{
			{models.SourceBilibili, "BV18KBJBeEmV"},
			{models.SourceYouTube, "dQw4w9WgXcQ"},
		} {
			url := CanonicalURL(in.source, in.id, in.id)
			parsed, err := Parse(url)
			require.NoError(t, err)
			assert.Equal(t, in.source, parsed.Source)
			assert.Equal(t, in.id, parsed.VideoID)
		}
	})
}
