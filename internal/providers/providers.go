// Package providers defines the contracts the pipeline runner depends on
// for speech recognition and subtitle translation. Concrete adapters live
// in the subpackages: dashscope and gemini for live mode, mock for
// development and tests.
package providers

import (
	"context"

	"github.com/grillmaster/grillmaster/internal/eventlog"
	"github.com/grillmaster/grillmaster/internal/models"
)

// ASRRequest describes one transcription job. The provider reads AudioPath
// and writes the raw transcription JSON and the normalized SRT.
type ASRRequest struct {
	ProjectID      models.ULID
	AudioPath      string
	OutputJSONPath string
	OutputSRTPath  string
	Logger         *eventlog.TaskLogger
}

// TranslationRequest describes one translation job. The provider reads the
// ASR SRT (and the audio for acoustic context) and writes the translated SRT.
type TranslationRequest struct {
	ProjectID       models.ULID
	ASRSRTPath      string
	AudioPath       string
	OutputSRTPath   string
	TranslationHint string
	Logger          *eventlog.TaskLogger
}

// TranslationResult reports what a translation cost.
type TranslationResult struct {
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	TotalCostTWD float64
}

// ASRProvider transcribes an audio file into timed subtitle cues.
type ASRProvider interface {
	RunASR(ctx context.Context, req ASRRequest) error
}

// Translator translates an SRT file into Traditional Chinese.
type Translator interface {
	Translate(ctx context.Context, req TranslationRequest) (*TranslationResult, error)
}
