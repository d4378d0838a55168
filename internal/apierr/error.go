// Package apierr provides error types shared by the API clients.
package apierr

import (
	"fmt"
	"time"
)

// RetryableError marks an error of an operation that might succeed when it
// is run again.
type RetryableError struct {
	// Err is the wrapped original error
	Err error
	// After is the earliest point in time the operation should be retried.
	// A zero value means it can be retried immediately.
	After time.Time
}

func NewRetryableError(originalErr error, retryAfter time.Time) *RetryableError {
	return &RetryableError{
		Err:   originalErr,
		After: retryAfter,
	}
}

func NewRetryableAnytimeError(originalErr error) *RetryableError {
	return &RetryableError{
		Err: originalErr,
	}
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Error() string {
	if e.After.IsZero() {
		return fmt.Sprintf("retryable error: %s", e.Err)
	}

	return fmt.Sprintf("retryable error (after %s): %s", e.After.Format(time.RFC3339), e.Err)
}
