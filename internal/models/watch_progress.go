package models

import "gorm.io/gorm"

// WatchProgress stores one viewer's playback position in a project's video.
// One row per (project, viewer); updates overwrite in place.
type WatchProgress struct {
	BaseModel

	// ProjectID is the project being watched. Unique together with ViewerID.
	ProjectID ULID `gorm:"not null;type:varchar(26);uniqueIndex:idx_watch_progress_project_viewer" json:"project_id"`

	// ViewerID is an opaque client-chosen identifier.
	ViewerID string `gorm:"not null;size:100;uniqueIndex:idx_watch_progress_project_viewer" json:"viewer_id"`

	// PositionSec is the playback position in seconds.
	PositionSec float64 `gorm:"default:0" json:"position_sec"`

	// DurationSec is the total media duration in seconds as the client saw it.
	DurationSec float64 `gorm:"default:0" json:"duration_sec"`
}

// TableName returns the table name for WatchProgress.
func (WatchProgress) TableName() string {
	return "watch_progress"
}

// Validate performs basic validation on the watch progress row.
func (w *WatchProgress) Validate() error {
	if w.ProjectID.IsZero() {
		return ErrProjectIDRequired
	}
	if w.ViewerID == "" {
		return ErrViewerIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the row and generates a ULID.
func (w *WatchProgress) BeforeCreate(tx *gorm.DB) error {
	if err := w.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return w.Validate()
}
