// Package mock provides deterministic in-process providers for development
// and tests. No network access, no credentials; output depends only on the
// input files.
package mock

import (
	"context"
	"fmt"
	"os"

	"github.com/grillmaster/grillmaster/internal/errs"
	"github.com/grillmaster/grillmaster/internal/providers"
	"github.com/grillmaster/grillmaster/internal/subtitle"
)

const fileMode = 0o644

// mockTranscription mirrors the shape DashScope returns so downstream
// tooling that inspects asr.json keeps working against mock runs.
const mockTranscription = `{
  "file_url": "mock://audio.opus",
  "properties": {"channels": [0]},
  "transcripts": [
    {
      "channel_id": 0,
      "text": "こんにちは、世界。今日もいい天気ですね。",
      "sentences": [
        {
          "sentence_id": 1,
          "begin_time": 0,
          "end_time": 2000,
          "text": "こんにちは、世界。",
          "words": []
        },
        {
          "sentence_id": 2,
          "begin_time": 2500,
          "end_time": 5000,
          "text": "今日もいい天気ですね。",
          "words": []
        }
      ]
    }
  ]
}`

// ASR writes a fixed two-cue Japanese transcription.
type ASR struct{}

// NewASR creates the mock transcription provider.
func NewASR() *ASR { return &ASR{} }

func (a *ASR) RunASR(ctx context.Context, req providers.ASRRequest) error {
	if req.Logger != nil {
		req.Logger.Info(ctx, "Using mock transcription provider")
	}

	if err := os.WriteFile(req.OutputJSONPath, []byte(mockTranscription), fileMode); err != nil {
		return errs.NewPipeline("run_asr", "writing mock transcription JSON", false, err)
	}

	srt, err := subtitle.TranscriptionToSRT([]byte(mockTranscription))
	if err != nil {
		return errs.NewPipeline("run_asr", "converting mock transcription to SRT", false, err)
	}
	if err := os.WriteFile(req.OutputSRTPath, []byte(srt), fileMode); err != nil {
		return errs.NewPipeline("run_asr", "writing mock SRT", false, err)
	}
	return nil
}

// Translator rewrites each cue as "[譯] <original>" without touching timing.
type Translator struct{}

// NewTranslator creates the mock translation provider.
func NewTranslator() *Translator { return &Translator{} }

func (t *Translator) Translate(ctx context.Context, req providers.TranslationRequest) (*providers.TranslationResult, error) {
	if req.Logger != nil {
		req.Logger.Info(ctx, "Using mock translation provider")
	}

	data, err := os.ReadFile(req.ASRSRTPath)
	if err != nil {
		return nil, errs.NewPipeline("translate_subtitles", "reading source SRT", false, err)
	}

	cues, err := subtitle.ParseSRT(string(data))
	if err != nil {
		return nil, errs.NewPipeline("translate_subtitles", "parsing source SRT", false, err)
	}
	for i := range cues {
		cues[i].Text = fmt.Sprintf("[譯] %s", cues[i].Text)
	}

	if err := os.WriteFile(req.OutputSRTPath, []byte(subtitle.RenderSRT(cues)), fileMode); err != nil {
		return nil, errs.NewPipeline("translate_subtitles", "writing translated SRT", false, err)
	}

	return &providers.TranslationResult{Provider: "mock", Model: "mock"}, nil
}
