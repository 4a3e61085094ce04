// Package startup provides utilities for application startup tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/grillmaster/grillmaster/internal/config"
)

// DeletedDirPrefix marks project directories moved aside by a delete request.
// They hold the downloaded media until the janitor reclaims them.
const DeletedDirPrefix = "_deleted_"

// Janitor reclaims `_deleted_*` project directories once they are older than
// the configured retention. Retention 0 disables the janitor entirely.
type Janitor struct {
	projectsDir string
	retention   time.Duration
	schedule    string
	logger      *slog.Logger
	cron        *cron.Cron
}

// NewJanitor creates a janitor for the given projects directory.
func NewJanitor(cfg config.JanitorConfig, projectsDir string, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		projectsDir: projectsDir,
		retention:   cfg.Retention.Duration(),
		schedule:    cfg.Schedule,
		logger:      logger,
	}
}

// Start runs one sweep immediately and schedules recurring sweeps. It is a
// no-op when retention is disabled.
func (j *Janitor) Start() error {
	if j.retention <= 0 {
		j.logger.Debug("janitor disabled, deleted project directories are kept")
		return nil
	}

	if _, err := j.Sweep(); err != nil {
		j.logger.Warn("startup sweep failed",
			slog.String("error", err.Error()),
		)
	}

	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.schedule, func() {
		if _, err := j.Sweep(); err != nil {
			j.logger.Warn("scheduled sweep failed",
				slog.String("error", err.Error()),
			)
		}
	}); err != nil {
		return err
	}
	j.cron.Start()

	j.logger.Info("janitor started",
		slog.String("schedule", j.schedule),
		slog.Duration("retention", j.retention),
	)
	return nil
}

// Stop halts the recurring sweeps and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

// Sweep removes every `_deleted_*` directory older than the retention and
// returns the number of directories removed. Entries that cannot be removed
// are logged and skipped.
func (j *Janitor) Sweep() (int, error) {
	if _, err := os.Stat(j.projectsDir); os.IsNotExist(err) {
		j.logger.Debug("projects directory does not exist, skipping sweep",
			slog.String("path", j.projectsDir),
		)
		return 0, nil
	}

	entries, err := os.ReadDir(j.projectsDir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-j.retention)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), DeletedDirPrefix) {
			continue
		}

		dirPath := filepath.Join(j.projectsDir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			j.logger.Warn("failed to stat deleted directory",
				slog.String("path", dirPath),
				slog.String("error", err.Error()),
			)
			continue
		}

		if info.ModTime().After(cutoff) {
			j.logger.Debug("preserving recently deleted directory",
				slog.String("path", dirPath),
				slog.Duration("age", time.Since(info.ModTime()).Round(time.Second)),
			)
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			j.logger.Warn("failed to remove deleted directory",
				slog.String("path", dirPath),
				slog.String("error", err.Error()),
			)
			continue
		}

		j.logger.Info("removed deleted project directory",
			slog.String("path", dirPath),
			slog.Duration("age", time.Since(info.ModTime()).Round(time.Second)),
		)
		removed++
	}

	return removed, nil
}
