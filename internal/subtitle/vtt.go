package subtitle

import (
	"regexp"
	"strings"
)

// srtTimestamp matches SRT timestamps so the comma→dot rewrite cannot touch
// commas inside cue text.
var srtTimestamp = regexp.MustCompile(`(\d{2}:\d{2}:\d{2}),(\d{3})`)

// SRTToVTT converts SRT content to WebVTT: a WEBVTT header, Unix line
// endings, and dot-separated milliseconds in timestamps. Cue numbers are
// legal in WebVTT and are kept.
func SRTToVTT(srt string) string {
	body := strings.ReplaceAll(srt, "\r\n", "\n")
	body = srtTimestamp.ReplaceAllString(body, "$1.$2")
	return "WEBVTT\n\n" + body
}
