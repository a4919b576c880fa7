// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrStaleWrite indicates a conditional status write lost the race:
	// another job already committed a transition for the same entity. The
	// caller should return the persisted outcome, not an error.
	ErrStaleWrite = errors.New("stale write: status already transitioned")

	// Queue errors.
	ErrUnknownJobType = errors.New("no queue registered for job type")
	ErrQueueNotFound  = errors.New("queue not found")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ValidationError marks a malformed job payload. Validation failures are
// terminal: the job is failed without retry.
type ValidationError struct {
	Err     error
	JobType string
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid payload for %s: %v", e.JobType, e.Err)
	}
	return fmt.Sprintf("invalid payload for %s", e.JobType)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError wraps a payload decoding or validation failure.
func NewValidationError(jobType string, err error) error {
	return &ValidationError{JobType: jobType, Err: err}
}

// IsRetryable determines if an error should trigger a retry. Validation and
// configuration failures never heal on their own; everything else is treated
// as transient, including timeouts, which are retried on a fresh context.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}
	if errors.Is(err, ErrStaleWrite) ||
		errors.Is(err, ErrUnknownJobType) ||
		errors.Is(err, ErrQueueNotFound) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrInvalidConfig) {
		return false
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return true
}
