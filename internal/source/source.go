// Package source classifies raw submission input (a URL or a bare video id)
// into a platform and its native video id, and derives the canonical watch
// URL handed to yt-dlp.
package source

import (
	"regexp"
	"strings"

	"github.com/grillmaster/grillmaster/internal/errs"
	"github.com/grillmaster/grillmaster/internal/models"
)

// Rules are ordered: the first match wins. Bilibili BV ids are case-sensitive
// after the prefix, so only the prefix itself is normalized.
var (
	bilibiliRe = regexp.MustCompile(`(?i:bv)([A-Za-z0-9]{10})`)
	tverRe     = regexp.MustCompile(`episodes/(\w+)`)
	youtubeRe  = regexp.MustCompile(`(?:v=|youtu\.be/)([A-Za-z0-9_-]{11})`)
	bareIDRe   = regexp.MustCompile(`^[A-Za-z0-9_-]{6,30}$`)
)

// Parsed is the classification of one submission input.
type Parsed struct {
	Source        models.SourceType
	VideoID       string
	OriginalInput string
}

// Parse classifies input. Unrecognisable input yields a ValidationError.
func Parse(input string) (*Parsed, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, errs.NewValidation("video source is empty")
	}

	if m := bilibiliRe.FindStringSubmatch(trimmed); m != nil {
		return &Parsed{
			Source:        models.SourceBilibili,
			VideoID:       "BV" + m[1],
			OriginalInput: trimmed,
		}, nil
	}
	if m := tverRe.FindStringSubmatch(trimmed); m != nil {
		return &Parsed{
			Source:        models.SourceTver,
			VideoID:       m[1],
			OriginalInput: trimmed,
		}, nil
	}
	if m := youtubeRe.FindStringSubmatch(trimmed); m != nil {
		return &Parsed{
			Source:        models.SourceYouTube,
			VideoID:       m[1],
			OriginalInput: trimmed,
		}, nil
	}

	// A bare identifier that yt-dlp may still resolve.
	if bareIDRe.MatchString(trimmed) {
		return &Parsed{
			Source:        models.SourceUnknown,
			VideoID:       trimmed,
			OriginalInput: trimmed,
		}, nil
	}

	return nil, errs.NewValidation("unrecognised video source: %s", trimmed)
}

// CanonicalURL derives the watch URL for a classified source. URLs submitted
// directly are kept verbatim; bare ids get the platform's canonical form
// where one exists, the raw input otherwise.
func CanonicalURL(source models.SourceType, videoID, originalInput string) string {
	if strings.HasPrefix(originalInput, "http://") || strings.HasPrefix(originalInput, "https://") {
		return originalInput
	}
	switch source {
	case models.SourceBilibili:
		return "https://www.bilibili.com/video/" + videoID
	case models.SourceYouTube:
		return "https://www.youtube.com/watch?v=" + videoID
	}
	return originalInput
}
