// Package service implements the application operations behind the HTTP
// API: project submission, task control, deletion, and watch progress.
// Services validate input, orchestrate the store and the runner queue, and
// return behavioral errors for the transport layer to map.
package service

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/grillmaster/grillmaster/internal/config"
	"github.com/grillmaster/grillmaster/internal/errs"
	"github.com/grillmaster/grillmaster/internal/models"
	"github.com/grillmaster/grillmaster/internal/pipeline"
	"github.com/grillmaster/grillmaster/internal/source"
	"github.com/grillmaster/grillmaster/internal/store"
)

// deletedDirPrefix marks project directories awaiting janitor removal.
const deletedDirPrefix = "_deleted_"

// maxTranslationHintChars bounds the free-text hint persisted per project.
const maxTranslationHintChars = 400

// Queue is the runner surface the services depend on.
type Queue interface {
	Enqueue(item pipeline.QueueItem) bool
}

// ProjectService handles project lifecycle operations.
type ProjectService struct {
	store  *store.Store
	queue  Queue
	cfg    *config.Config
	logger *slog.Logger
}

// NewProjectService creates a project service.
func NewProjectService(st *store.Store, queue Queue, cfg *config.Config, logger *slog.Logger) *ProjectService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectService{store: st, queue: queue, cfg: cfg, logger: logger}
}

// Submit parses the source reference, creates the project with its first
// task, and enqueues it. In live mode missing provider credentials fail the
// submission up front rather than at the first provider call.
func (s *ProjectService) Submit(ctx context.Context, sourceOrURL, translationHint string) (*store.SubmitResult, error) {
	sourceOrURL = strings.TrimSpace(sourceOrURL)
	if utf8.RuneCountInString(sourceOrURL) < 2 {
		return nil, errs.NewValidation("sourceOrUrl must be at least 2 characters")
	}
	if utf8.RuneCountInString(translationHint) > maxTranslationHintChars {
		return nil, errs.NewValidation("translationHint must be at most %d characters", maxTranslationHintChars)
	}

	if s.cfg.Pipeline.IsLive() {
		if missing := s.cfg.MissingLiveCredentials(); len(missing) > 0 {
			return nil, errs.MissingCredentials(missing)
		}
	}

	parsed, err := source.Parse(sourceOrURL)
	if err != nil {
		return nil, err
	}

	result, err := s.store.SubmitProject(ctx, parsed.Source, parsed.VideoID, parsed.OriginalInput, translationHint)
	if err != nil {
		return nil, err
	}

	if !s.queue.Enqueue(pipeline.QueueItem{TaskID: result.TaskID, ProjectID: result.ProjectID}) {
		// The task row is queued either way; a retry request re-enqueues it.
		s.logger.Warn("submission accepted but queue rejected the task",
			slog.String("task_id", result.TaskID.String()))
	}
	return result, nil
}

// List returns recent projects with their latest task.
func (s *ProjectService) List(ctx context.Context, limit int) ([]*store.ProjectWithLatestTask, error) {
	return s.store.ListProjects(ctx, limit)
}

// Get returns one project with its recent tasks.
func (s *ProjectService) Get(ctx context.Context, projectID models.ULID) (*store.ProjectDetail, error) {
	detail, err := s.store.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, errs.NewNotFound("project", projectID.String())
	}
	return detail, nil
}

// Delete renames the project working directory out of the way and cascades
// the database rows. The renamed directory is reclaimed later by the
// janitor, so a mistaken delete loses no media immediately.
func (s *ProjectService) Delete(ctx context.Context, projectID models.ULID) error {
	oldPath := filepath.Join(s.cfg.Pipeline.ProjectsDir, projectID.String())
	newPath := filepath.Join(s.cfg.Pipeline.ProjectsDir, deletedDirPrefix+projectID.String())

	if err := os.Rename(oldPath, newPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errs.NewInfrastructure("moving project directory aside", err)
	}

	return s.store.DeleteProject(ctx, projectID)
}

// SaveWatchProgress upserts a viewer's playback position.
func (s *ProjectService) SaveWatchProgress(ctx context.Context, projectID models.ULID, viewerID string, positionSec, durationSec float64) error {
	if strings.TrimSpace(viewerID) == "" {
		return errs.NewValidation("viewerId is required")
	}
	if positionSec < 0 {
		return errs.NewValidation("positionSec must not be negative")
	}
	if durationSec <= 0 {
		return errs.NewValidation("durationSec must be positive")
	}
	return s.store.UpsertWatchProgress(ctx, projectID, viewerID, positionSec, durationSec)
}

// GetWatchProgress returns a viewer's saved position, nil when none exists.
func (s *ProjectService) GetWatchProgress(ctx context.Context, projectID models.ULID, viewerID string) (*models.WatchProgress, error) {
	return s.store.GetWatchProgress(ctx, projectID, viewerID)
}
