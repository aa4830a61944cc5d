// Package server provides the HTTP control API for profile generation.
package server

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/profile-orchestrator/internal/catalog"
	"github.com/jonathan/profile-orchestrator/internal/orchestrator"
	"github.com/jonathan/profile-orchestrator/internal/task"
	"github.com/jonathan/profile-orchestrator/internal/version"
)

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		validationErrs     validator.ValidationErrors
		positionNotFound   *catalog.ErrPositionNotFound
		taskNotFound       *task.ErrTaskNotFound
		invalidTransition  *task.ErrInvalidTransition
		progressRegression *task.ErrProgressRegression
		concurrent         *orchestrator.ErrConcurrentGeneration
		alreadyTerminal    *orchestrator.ErrAlreadyTerminal
		notReady           *orchestrator.ErrNotReady
		profileNotFound    *version.ErrProfileNotFound
		versionNotFound    *version.ErrVersionNotFound
	)

	switch {
	case errors.As(err, &validationErrs):
		return http.StatusBadRequest
	case errors.As(err, &positionNotFound):
		return http.StatusNotFound
	case errors.As(err, &taskNotFound):
		return http.StatusNotFound
	case errors.As(err, &profileNotFound), errors.As(err, &versionNotFound):
		return http.StatusNotFound
	case errors.As(err, &concurrent):
		return http.StatusConflict
	case errors.As(err, &alreadyTerminal), errors.As(err, &notReady):
		return http.StatusConflict
	case errors.As(err, &invalidTransition), errors.As(err, &progressRegression):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
