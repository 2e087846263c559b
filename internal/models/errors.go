package models

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable marks network and timeout failures talking to an external backend.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrValidation marks input rejected before any work is queued.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a document or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDimensionMismatch is returned when a vector does not match the configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// BackendError describes a failed call to an embedding, generation, storage or broker backend.
type BackendError struct {
	Backend    string
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *BackendError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: status %d: %s", e.Backend, e.Op, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s %s: %s", e.Backend, e.Op, e.Message)
	}
}

func (e *BackendError) Unwrap() error { return e.Err }

// Transient reports whether the failure was a connectivity or timeout problem.
func (e *BackendError) Transient() bool {
	return errors.Is(e.Err, ErrBackendUnavailable)
}

// Unavailable builds a BackendError for a connectivity or timeout failure.
func Unavailable(backend, op string, cause error) *BackendError {
	return &BackendError{
		Backend: backend,
		Op:      op,
		Err:     fmt.Errorf("%w: %v", ErrBackendUnavailable, cause),
	}
}

// IsTransient reports whether err is a connectivity/timeout failure of some backend.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// ValidationError rejects an upload or payload before it is enqueued.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ProcessingError is the terminal failure of one document processing run.
type ProcessingError struct {
	DocumentID string
	Stage      string
	Err        error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing document %s failed at %s: %v", e.DocumentID, e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
