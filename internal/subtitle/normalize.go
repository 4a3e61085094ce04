package subtitle

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxCueChars follows the Japanese subtitle convention of 40 characters per
// cue. Longer recognition sentences are re-split.
const MaxCueChars = 40

// maxMergeGapMs is the largest silence between two sentences that still
// counts as a run-on abbreviation split ("N." + "G.").
const maxMergeGapMs = 500

// splitPunctuation marks natural break points inside a sentence.
var splitPunctuation = map[string]bool{
	"、": true, "。": true, "！": true, "？": true,
	"!": true, "?": true, "，": true, ",": true,
}

// TranscriptionWord is one recognized word with its punctuation suffix.
type TranscriptionWord struct {
	BeginTime   int64  `json:"begin_time"`
	EndTime     int64  `json:"end_time"`
	Text        string `json:"text"`
	Punctuation string `json:"punctuation"`
}

// TranscriptionSentence is one recognized sentence segment.
type TranscriptionSentence struct {
	BeginTime  int64               `json:"begin_time"`
	EndTime    int64               `json:"end_time"`
	Text       string              `json:"text"`
	SentenceID int                 `json:"sentence_id"`
	Words      []TranscriptionWord `json:"words"`
}

// Transcript is the recognition output for one audio channel.
type Transcript struct {
	ChannelID int                     `json:"channel_id"`
	Text      string                  `json:"text"`
	Sentences []TranscriptionSentence `json:"sentences"`
}

// TranscriptionResult is the full transcription document.
type TranscriptionResult struct {
	FileURL     string       `json:"file_url"`
	Transcripts []Transcript `json:"transcripts"`
}

// ParseTranscription decodes a transcription JSON document.
func ParseTranscription(data []byte) (*TranscriptionResult, error) {
	var result TranscriptionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parsing transcription JSON: %w", err)
	}
	return &result, nil
}

// NormalizeTranscript turns the raw recognition sentences of one channel
// into subtitle cues: NFC-normalized text, run-on abbreviation splits merged
// back together, and over-long sentences re-split at natural boundaries.
func NormalizeTranscript(result *TranscriptionResult, channelID int) ([]Cue, error) {
	var transcript *Transcript
	for i := range result.Transcripts {
		if result.Transcripts[i].ChannelID == channelID {
			transcript = &result.Transcripts[i]
			break
		}
	}
	if transcript == nil {
		return nil, fmt.Errorf("channel %d not found in transcription", channelID)
	}

	sentences := make([]TranscriptionSentence, len(transcript.Sentences))
	for i, sentence := range transcript.Sentences {
		sentences[i] = nfcSentence(sentence)
	}

	merged := mergeDottedSentences(sentences)

	var cues []Cue
	for _, sentence := range merged {
		cues = append(cues, splitLongSentence(sentence)...)
	}
	for i := range cues {
		cues[i].Index = i + 1
	}
	return cues, nil
}

// TranscriptionToSRT is the full conversion used by the ASR step: parse,
// normalize channel 0, render SRT.
func TranscriptionToSRT(data []byte) (string, error) {
	result, err := ParseTranscription(data)
	if err != nil {
		return "", err
	}
	cues, err := NormalizeTranscript(result, 0)
	if err != nil {
		return "", err
	}
	return RenderSRT(cues), nil
}

func nfcSentence(s TranscriptionSentence) TranscriptionSentence {
	s.Text = norm.NFC.String(s.Text)
	words := make([]TranscriptionWord, len(s.Words))
	for i, w := range s.Words {
		w.Text = norm.NFC.String(w.Text)
		w.Punctuation = norm.NFC.String(w.Punctuation)
		words[i] = w
	}
	s.Words = words
	return s
}

func isEnglishLetter(r rune) bool {
	return r < unicode.MaxASCII && unicode.IsLetter(r)
}

func lastRune(s string) (rune, bool) {
	runes := []rune(s)
	if len(runes) == 0 {
		return 0, false
	}
	return runes[len(runes)-1], true
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}

// shouldMergeWithNext detects abbreviation splits: the recognizer breaks
// "N.G." into "N." and "G." because "." looks like a sentence end. Merge
// when the period follows an English letter, the gap is short, and the next
// sentence looks like the continuation.
func shouldMergeWithNext(current, next TranscriptionSentence) bool {
	if len(current.Words) == 0 || len(next.Words) == 0 {
		return false
	}

	lastWord := current.Words[len(current.Words)-1]
	if strings.TrimSpace(lastWord.Punctuation) != "." {
		return false
	}

	// Filters out Japanese text that merely ends with "." as a full stop.
	r, ok := lastRune(strings.TrimSpace(lastWord.Text))
	if !ok || !isEnglishLetter(r) {
		return false
	}

	if next.BeginTime-current.EndTime > maxMergeGapMs {
		return false
	}

	first, ok := firstRune(strings.TrimSpace(next.Words[0].Text))
	if !ok || !isEnglishLetter(first) {
		return false
	}

	// A short continuation ("G.") merges unconditionally; a longer one only
	// when it keeps the abbreviation chain going.
	if len([]rune(strings.TrimSpace(next.Text))) <= 5 {
		return true
	}
	return strings.TrimSpace(next.Words[len(next.Words)-1].Punctuation) == "."
}

func mergeTwoSentences(first, second TranscriptionSentence) TranscriptionSentence {
	return TranscriptionSentence{
		BeginTime:  first.BeginTime,
		EndTime:    second.EndTime,
		Text:       strings.TrimRight(first.Text, " \t") + second.Text,
		SentenceID: first.SentenceID,
		Words:      append(append([]TranscriptionWord{}, first.Words...), second.Words...),
	}
}

func mergeDottedSentences(sentences []TranscriptionSentence) []TranscriptionSentence {
	if len(sentences) == 0 {
		return nil
	}

	result := make([]TranscriptionSentence, 0, len(sentences))
	i := 0
	for i < len(sentences) {
		current := sentences[i]
		for i+1 < len(sentences) && shouldMergeWithNext(current, sentences[i+1]) {
			current = mergeTwoSentences(current, sentences[i+1])
			i++
		}
		result = append(result, current)
		i++
	}
	return result
}

func wordText(w TranscriptionWord) string {
	return w.Text + w.Punctuation
}

// hasSplitPunctuation reports whether any word before the last carries a
// usable break mark. Punctuation only on the final word cannot split
// anything.
func hasSplitPunctuation(words []TranscriptionWord) bool {
	if len(words) <= 1 {
		return false
	}
	for _, w := range words[:len(words)-1] {
		if splitPunctuation[strings.TrimSpace(w.Punctuation)] {
			return true
		}
	}
	return false
}

// splitLongSentence breaks a sentence above MaxCueChars into segments of
// roughly 0.8×MaxCueChars, preferring punctuation boundaries and falling
// back to even distribution over word boundaries.
func splitLongSentence(sentence TranscriptionSentence) []Cue {
	if len([]rune(sentence.Text)) <= MaxCueChars {
		return []Cue{{
			StartMs: sentence.BeginTime,
			EndMs:   sentence.EndTime,
			Text:    strings.TrimSpace(sentence.Text),
		}}
	}

	target := int(float64(MaxCueChars) * 0.8)
	if hasSplitPunctuation(sentence.Words) {
		return splitByPunctuation(sentence, target)
	}
	return splitByLength(sentence, target)
}

// splitByPunctuation accumulates words and, once the segment exceeds the
// target length, backtracks to the most recent punctuation mark.
func splitByPunctuation(sentence TranscriptionSentence, maxChars int) []Cue {
	var segments []Cue
	var currentWords []TranscriptionWord
	var currentText string
	splitAt := -1 // index into currentWords after the last punctuation
	var splitText string

	for _, word := range sentence.Words {
		currentWords = append(currentWords, word)
		currentText += wordText(word)

		if splitPunctuation[strings.TrimSpace(word.Punctuation)] {
			splitAt = len(currentWords)
			splitText = currentText
		}

		if len([]rune(currentText)) >= maxChars && splitAt > 0 {
			head := currentWords[:splitAt]
			segments = append(segments, Cue{
				StartMs: head[0].BeginTime,
				EndMs:   head[len(head)-1].EndTime,
				Text:    strings.TrimSpace(splitText),
			})

			rest := append([]TranscriptionWord{}, currentWords[splitAt:]...)
			currentWords = rest
			var b strings.Builder
			for _, w := range rest {
				b.WriteString(wordText(w))
			}
			currentText = b.String()
			splitAt = -1
		}
	}

	if len(currentWords) > 0 {
		segments = append(segments, Cue{
			StartMs: currentWords[0].BeginTime,
			EndMs:   currentWords[len(currentWords)-1].EndTime,
			Text:    strings.TrimSpace(currentText),
		})
	}
	return segments
}

// splitByLength distributes the text evenly over ceil(total/max) segments,
// splitting only at word boundaries.
func splitByLength(sentence TranscriptionSentence, maxChars int) []Cue {
	if len(sentence.Words) == 0 {
		return []Cue{{
			StartMs: sentence.BeginTime,
			EndMs:   sentence.EndTime,
			Text:    strings.TrimSpace(sentence.Text),
		}}
	}

	var total strings.Builder
	for _, w := range sentence.Words {
		total.WriteString(wordText(w))
	}
	totalChars := len([]rune(total.String()))
	if totalChars <= maxChars {
		return []Cue{{
			StartMs: sentence.BeginTime,
			EndMs:   sentence.EndTime,
			Text:    strings.TrimSpace(total.String()),
		}}
	}

	numSegments := (totalChars + maxChars - 1) / maxChars
	targetChars := float64(totalChars) / float64(numSegments)

	var segments []Cue
	var currentWords []TranscriptionWord
	var currentText string

	for _, word := range sentence.Words {
		currentWords = append(currentWords, word)
		currentText += wordText(word)

		if float64(len([]rune(currentText))) >= targetChars && len(segments) < numSegments-1 {
			segments = append(segments, Cue{
				StartMs: currentWords[0].BeginTime,
				EndMs:   currentWords[len(currentWords)-1].EndTime,
				Text:    strings.TrimSpace(currentText),
			})
			currentWords = nil
			currentText = ""
		}
	}

	if len(currentWords) > 0 {
		segments = append(segments, Cue{
			StartMs: currentWords[0].BeginTime,
			EndMs:   currentWords[len(currentWords)-1].EndTime,
			Text:    strings.TrimSpace(currentText),
		})
	}
	return segments
}
