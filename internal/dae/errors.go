package dae

import "errors"

// Domain errors for session setup and integration.
var (
	// ErrDimension indicates invalid or inconsistent problem dimensions.
	ErrDimension = errors.New("dae: dimension mismatch")

	// ErrOption indicates an invalid configuration option value.
	ErrOption = errors.New("dae: invalid option value")

	// ErrTimeOrder indicates an advance before the start time or past the
	// end time when that is not permitted.
	ErrTimeOrder = errors.New("dae: requested time outside integration horizon")

	// ErrNoBackward indicates a retreat before the backward problem was
	// initialized.
	ErrNoBackward = errors.New("dae: backward problem not initialized")

	// ErrClosed indicates use of a session memory after Close.
	ErrClosed = errors.New("dae: session memory released")
)

// RecoverableError marks a callback failure the solver may retry with a
// smaller step instead of aborting.
type RecoverableError struct {
	Err error
}

func (e *RecoverableError) Error() string {
	return "dae: recoverable: " + e.Err.Error()
}

func (e *RecoverableError) Unwrap() error { return e.Err }

// Recoverable wraps err so the callback boundary forwards it to the solver
// as a retryable condition.
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &RecoverableError{Err: err}
}

// IsRecoverable reports whether err carries the retryable marker.
func IsRecoverable(err error) bool {
	var re *RecoverableError
	return errors.As(err, &re)
}
