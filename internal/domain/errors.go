package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the ledger
	ErrJobNotFound = errors.New("job not found")

	// ErrFileNotFound is returned when a file cannot be found in the ledger
	ErrFileNotFound = errors.New("file not found")

	// ErrPermissionDenied is returned when the requester does not own the job or file
	ErrPermissionDenied = errors.New("permission denied")

	// ErrJobFinalized is returned when an outcome would push a job past its total file count
	ErrJobFinalized = errors.New("job already finalized")

	// ErrFileNotReady is returned when a download is requested before the file completed
	ErrFileNotReady = errors.New("file is not available yet")

	// ErrFileNotDeletable is returned when deleting a file that is still processing
	ErrFileNotDeletable = errors.New("file is still processing")

	// ErrConcurrencyConflict is returned when a ledger write lost a race and must be retried
	ErrConcurrencyConflict = errors.New("concurrent update conflict")

	// ErrInvalidPayload is returned when a work item is malformed
	ErrInvalidPayload = errors.New("invalid work item payload")

	// ErrMaxRetriesExceeded is returned when a file move exhausted its attempts
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// ValidationError reports a rejected request; nothing was persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err, or anything it wraps, is a RetryableError
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}
