package dispatch

import "errors"

var (
	ErrInvalidRequest        = errors.New("invalid send request")
	ErrConfigurationNotFound = errors.New("email configuration not found")
	ErrWorkspaceNotActive    = errors.New("workspace not found or not active")
	ErrEmailNotFound         = errors.New("email not found")
	// ErrVersionConflict means the row changed since it was read.
	ErrVersionConflict = errors.New("email was modified concurrently")
	// ErrRetryableFailure wraps send failures that the runner should try again.
	ErrRetryableFailure = errors.New("retryable send failure")
	// ErrNonRetryable marks job errors that no retry can fix.
	ErrNonRetryable = errors.New("non-retryable job error")
)

// RejectionError is returned when a send request is refused before anything is persisted.
type RejectionError struct {
	Reason  error
	Message string
}

func (e *RejectionError) Error() string { return e.Message }

func (e *RejectionError) Unwrap() error { return e.Reason }

func reject(reason error, msg string) error {
	return &RejectionError{Reason: reason, Message: msg}
}
