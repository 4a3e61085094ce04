// Package handlers provides the HTTP API handlers for grillmaster.
package handlers

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/grillmaster/grillmaster/internal/errs"
	"github.com/grillmaster/grillmaster/internal/models"
)

// parseULID converts a path parameter into a ULID or a 400 error.
func parseULID(raw string) (models.ULID, error) {
	id, err := models.ParseULID(raw)
	if err != nil {
		return models.ULID{}, huma.Error400BadRequest("invalid ID format", err)
	}
	return id, nil
}

// mapServiceError translates behavioral service errors into HTTP status
// errors. Anything unclassified is an internal error with msg as context.
func mapServiceError(err error, msg string) error {
	switch {
	case errs.IsValidation(err):
		return huma.Error400BadRequest(err.Error())
	case errs.IsConflict(err):
		return huma.Error409Conflict(err.Error())
	case errs.IsNotFound(err):
		return huma.Error404NotFound(err.Error())
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
