// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Input errors. These are fatal and abort the run before dispatch.
	ErrInputFile   = errors.New("input file missing or unreadable")
	ErrInputColumn = errors.New("URL column not found in input")

	// Fetch errors.
	ErrAllBackendsFailed = errors.New("all crawler backends failed")

	// Classification errors.
	ErrEscalationUnavailable = errors.New("escalation classifier unavailable")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrRateLimit indicates that an API rate limit has been exceeded.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrMaxRetries indicates that all retry attempts have been exhausted.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}
