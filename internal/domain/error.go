package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Builder-time errors: detected before any backend is contacted and
	// never consume a retry attempt.
	ErrUnsupportedModel = errors.New("unsupported model")
	ErrInvalidParameter = errors.New("invalid parameter")

	// Backend-communication errors: retryable up to the job's attempt budget.
	ErrBackendOffline  = errors.New("no eligible backend online")
	ErrBackendRejected = errors.New("backend rejected execution graph")
	ErrBackendTimeout  = errors.New("backend timed out")
	ErrBackend         = errors.New("backend failure")

	// Post-success persistence failure; the artifact already exists, so this
	// is surfaced as an alert and never rolled back or retried automatically.
	ErrRecording = errors.New("result recording failed")

	ErrJobTerminal    = errors.New("job already in a terminal state")
	ErrStatusConflict = errors.New("job status changed concurrently")
)

// BackendError carries remote detail for a generic backend failure.
// errors.Is(err, ErrBackend) holds for every BackendError.
type BackendError struct {
	BackendID string
	Detail    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s", e.BackendID, e.Detail)
}

func (e *BackendError) Unwrap() error { return ErrBackend }

// Retryable reports whether a job failure should be retried on a
// (possibly different) backend. Builder-time and recording errors are not.
func Retryable(err error) bool {
	return errors.Is(err, ErrBackendRejected) ||
		errors.Is(err, ErrBackendTimeout) ||
		errors.Is(err, ErrBackend)
}

// ErrorKind maps an error to the stable taxonomy name stored on a job.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedModel):
		return "unsupported_model"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrBackendRejected):
		return "backend_rejected"
	case errors.Is(err, ErrBackendTimeout):
		return "backend_timeout"
	case errors.Is(err, ErrBackend):
		return "backend_error"
	case errors.Is(err, ErrRecording):
		return "recording_error"
	default:
		return "internal"
	}
}
