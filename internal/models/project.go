package models

import "gorm.io/gorm"

// SourceType identifies where a project's video comes from.
type SourceType string

const (
	// SourceBilibili represents a bilibili video (BV id).
	SourceBilibili SourceType = "bilibili"
	// SourceTver represents a TVer episode.
	SourceTver SourceType = "tver"
	// SourceYouTube represents a YouTube video.
	SourceYouTube SourceType = "youtube"
	// SourceUnknown represents a bare identifier that yt-dlp may still resolve.
	SourceUnknown SourceType = "unknown"
)

// Valid returns true if the source type is one of the recognised values.
func (s SourceType) Valid() bool {
	switch s {
	case SourceBilibili, SourceTver, SourceYouTube, SourceUnknown:
		return true
	}
	return false
}

// ProjectStatus represents the lifecycle state of a project.
// It mirrors the phase of the project's most recent pipeline task.
type ProjectStatus string

const (
	// ProjectStatusQueued indicates the project is waiting for its pipeline to start.
	ProjectStatusQueued ProjectStatus = "queued"
	// ProjectStatusDownloading indicates metadata fetch or video download is in progress.
	ProjectStatusDownloading ProjectStatus = "downloading"
	// ProjectStatusASR indicates audio extraction or speech recognition is in progress.
	ProjectStatusASR ProjectStatus = "asr"
	// ProjectStatusTranslating indicates subtitle translation or assembly is in progress.
	ProjectStatusTranslating ProjectStatus = "translating"
	// ProjectStatusCompleted indicates the pipeline finished successfully.
	ProjectStatusCompleted ProjectStatus = "completed"
	// ProjectStatusFailed indicates the pipeline failed.
	ProjectStatusFailed ProjectStatus = "failed"
	// ProjectStatusCanceling indicates a cancel request is waiting for a safe point.
	ProjectStatusCanceling ProjectStatus = "canceling"
	// ProjectStatusCanceled indicates the pipeline was canceled.
	ProjectStatusCanceled ProjectStatus = "canceled"
)

// IsTerminal returns true once the project reached a final state.
func (s ProjectStatus) IsTerminal() bool {
	return s == ProjectStatusCompleted || s == ProjectStatusFailed || s == ProjectStatusCanceled
}

// Project represents one submitted video and everything the pipeline
// produced for it. Paths are stored relative to the projects directory so
// the directory can move between hosts.
type Project struct {
	BaseModel

	// Source identifies the video platform.
	Source SourceType `gorm:"not null;size:20;uniqueIndex:idx_projects_source_video" json:"source"`

	// SourceVideoID is the platform-native video identifier (BV id, episode
	// id, YouTube id). Unique together with Source.
	SourceVideoID string `gorm:"not null;size:255;uniqueIndex:idx_projects_source_video" json:"source_video_id"`

	// OriginalInput preserves the raw string the project was submitted with.
	OriginalInput string `gorm:"size:2048" json:"original_input"`

	// TranslationHint is optional free-form context passed to the translator.
	TranslationHint string `gorm:"size:400" json:"translation_hint,omitempty"`

	// Status mirrors the phase of the latest pipeline task.
	Status ProjectStatus `gorm:"not null;default:'queued';size:20;index" json:"status"`

	// Title is the video title from the platform metadata.
	Title string `gorm:"size:512" json:"title,omitempty"`

	// ThumbnailURL points at the platform's cover image.
	ThumbnailURL string `gorm:"size:2048" json:"thumbnail_url,omitempty"`

	// SourceURL is the canonical watch URL derived from the source and id.
	SourceURL string `gorm:"size:2048" json:"source_url,omitempty"`

	// MediaPath is the merged video file, relative to the projects dir.
	MediaPath string `gorm:"size:1024" json:"media_path,omitempty"`

	// SubtitlePath is the translated WebVTT file, relative to the projects dir.
	SubtitlePath string `gorm:"size:1024" json:"subtitle_path,omitempty"`

	// ASRVTTPath is the untranslated recognition WebVTT, relative to the
	// projects dir. Useful for proofreading the translation.
	ASRVTTPath string `gorm:"column:asr_vtt_path;size:1024" json:"asr_vtt_path,omitempty"`

	// LLMCostTWD is the accumulated translation cost in New Taiwan dollars.
	LLMCostTWD float64 `gorm:"column:llm_cost_twd;default:0" json:"llm_cost_twd"`

	// LLMProvider names the translation backend that produced the subtitles.
	LLMProvider string `gorm:"column:llm_provider;size:50" json:"llm_provider,omitempty"`

	// LLMModel names the exact model used for translation.
	LLMModel string `gorm:"column:llm_model;size:100" json:"llm_model,omitempty"`

	// InputTokens is the total prompt token count across translation turns.
	InputTokens int64 `gorm:"default:0" json:"input_tokens"`

	// OutputTokens is the total completion token count across translation turns.
	OutputTokens int64 `gorm:"default:0" json:"output_tokens"`
}

// TableName returns the table name for Project.
func (Project) TableName() string {
	return "projects"
}

// Validate performs basic validation on the project.
func (p *Project) Validate() error {
	if p.Source == "" {
		return ErrSourceRequired
	}
	if !p.Source.Valid() {
		return ErrInvalidSource
	}
	if p.SourceVideoID == "" {
		return ErrSourceVideoIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the project and generates a ULID.
func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}
