package readiness

import "errors"

// UnrecoverableError ends a repeat loop at once. Store.Connect wraps reply
// errors, such as a refused password, in it since retrying cannot help.
type UnrecoverableError struct {
	err error
}

func (e *UnrecoverableError) Error() string {
	return "unrecoverable: " + e.err.Error()
}

func (e *UnrecoverableError) Unwrap() error {
	return e.err
}

func NewUnrecoverableError(err error) error {
	if err == nil {
		return nil
	}
	return &UnrecoverableError{err: err}
}

// IsUnrecoverable reports whether err, or anything it wraps, was marked with
// NewUnrecoverableError.
func IsUnrecoverable(err error) bool {
	var e *UnrecoverableError
	return errors.As(err, &e)
}
