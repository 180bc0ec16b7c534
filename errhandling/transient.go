package errhandling

import (
	"errors"
	"fmt"
	"time"
)

// transientError marks a failure the caller may retry, optionally after a
// hinted delay.
type transientError struct {
	err        error
	retryAfter time.Duration
}

func (e *transientError) Error() string {
	return "transient error: " + e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// NewTransientError marks err as retryable. Over HTTP it is reported as 503.
func NewTransientError(err error) error {
	return NewTransientErrorAfter(err, 0)
}

// NewTransientErrorAfter is NewTransientError with a hint, sent as
// Retry-After, of how long the caller should wait. A zero delay sends no
// hint.
func NewTransientErrorAfter(err error, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &transientError{err: err, retryAfter: retryAfter}
}

func NewTransientErrorf(format string, a ...any) error {
	return NewTransientError(fmt.Errorf(format, a...))
}

// IsTransient returns true if err is, or wraps, a transient error. Retrying is
// then safe but not required.
func IsTransient(err error) bool {
	var target *transientError
	return errors.As(err, &target)
}

// RetryAfter returns the delay hinted by the outermost transient error in the
// chain, or false when there is none.
func RetryAfter(err error) (time.Duration, bool) {
	var target *transientError
	if !errors.As(err, &target) || target.retryAfter == 0 {
		return 0, false
	}
	return target.retryAfter, true
}
