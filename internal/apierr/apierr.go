// Package apierr defines the closed error taxonomy shared by every
// component of the pipeline orchestration subsystem, so handlers can
// map failures to HTTP status codes without inspecting component-
// specific error types.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Wrap with fmt.Errorf("%w: ...", ErrX, ...) to attach
// detail while keeping errors.Is matching intact.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrTransient    = errors.New("transient failure")
	ErrStageFailure = errors.New("stage failure")
	ErrFatal        = errors.New("fatal internal error")
)

// StatusCode maps an error in the taxonomy to an HTTP status code. Errors
// that don't match any sentinel default to 500, matching the taxonomy's
// "Fatal internal error" bucket.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Validation wraps a validation failure with a human-readable detail.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps an entity-not-found failure.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflict wraps a state-precondition failure.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Transient wraps a retriable storage/network failure.
func Transient(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}

// StageFailure wraps a worker error that should fail the owning job.
func StageFailure(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStageFailure, fmt.Sprintf(format, args...))
}

// Fatal wraps an invariant violation that should never happen in a
// correctly operating system.
func Fatal(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFatal, fmt.Sprintf(format, args...))
}
