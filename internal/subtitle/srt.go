// Package subtitle implements the SRT cue model, SRT to WebVTT conversion,
// and the normalization of raw speech recognition output into readable cues.
package subtitle

import (
	"fmt"
	"strconv"
	"strings"
)

// Cue is one subtitle entry. Times are milliseconds from media start.
type Cue struct {
	Index   int
	StartMs int64
	EndMs   int64
	Text    string
}

// FormatSRTTime renders milliseconds as HH:MM:SS,mmm.
func FormatSRTTime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3600000
	ms %= 3600000
	minutes := ms / 60000
	ms %= 60000
	seconds := ms / 1000
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}

// ParseSRTTime parses HH:MM:SS,mmm (or the VTT dot variant) to milliseconds.
func ParseSRTTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	normalized := strings.Replace(s, ".", ",", 1)
	parts := strings.Split(normalized, ",")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid subtitle timestamp %q", s)
	}
	clock := strings.Split(parts[0], ":")
	if len(clock) != 3 {
		return 0, fmt.Errorf("invalid subtitle timestamp %q", s)
	}

	hours, err := strconv.ParseInt(clock[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subtitle timestamp %q", s)
	}
	minutes, err := strconv.ParseInt(clock[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subtitle timestamp %q", s)
	}
	seconds, err := strconv.ParseInt(clock[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subtitle timestamp %q", s)
	}
	millis, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subtitle timestamp %q", s)
	}

	return hours*3600000 + minutes*60000 + seconds*1000 + millis, nil
}

// ParseSRT parses SRT text into cues. Blank entries are skipped; cue numbers
// in the input are ignored and re-derived from position.
func ParseSRT(content string) ([]Cue, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	blocks := strings.Split(strings.TrimSpace(content), "\n\n")

	cues := make([]Cue, 0, len(blocks))
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 {
			continue
		}

		// First line is the cue number, second the timing. Some producers
		// omit the number; detect by looking for the arrow.
		timingLine := lines[1]
		textStart := 2
		if strings.Contains(lines[0], "-->") {
			timingLine = lines[0]
			textStart = 1
		}

		startRaw, endRaw, ok := strings.Cut(timingLine, "-->")
		if !ok {
			return nil, fmt.Errorf("invalid cue timing line %q", timingLine)
		}
		start, err := ParseSRTTime(startRaw)
		if err != nil {
			return nil, err
		}
		end, err := ParseSRTTime(endRaw)
		if err != nil {
			return nil, err
		}

		text := strings.TrimSpace(strings.Join(lines[textStart:], "\n"))
		if text == "" {
			continue
		}

		cues = append(cues, Cue{
			Index:   len(cues) + 1,
			StartMs: start,
			EndMs:   end,
			Text:    text,
		})
	}
	return cues, nil
}

// RenderSRT renders cues as SRT text. Cues are numbered sequentially from 1
// regardless of their Index fields; empty-text cues are dropped.
func RenderSRT(cues []Cue) string {
	var b strings.Builder
	n := 0
	for _, cue := range cues {
		text := strings.TrimSpace(cue.Text)
		if text == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			n, FormatSRTTime(cue.StartMs), FormatSRTTime(cue.EndMs), text)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
