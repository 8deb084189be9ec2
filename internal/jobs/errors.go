package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ValidationError marks bad job input. It is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// TimeoutError is produced by the worker when Execute overruns the job's
// timeout. Retryable by default; jobs with RetryOnTimeout=false treat it as
// terminal.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution exceeded timeout of %s", e.Timeout)
}

// fatalError forces terminal classification regardless of the wrapped cause.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so the retry policy treats it as non-retryable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// Transientf builds an explicitly retryable error, typically for upstream
// 5xx or network conditions.
func Transientf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTimeout reports whether err carries a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Retryable classifies an execution error. Validation errors, Fatal-wrapped
// errors, and caller cancellation are terminal; everything else, including
// timeouts and breaker-open rejections, is transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var fe *fatalError
	if errors.As(err, &fe) {
		return false
	}
	if IsValidation(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
