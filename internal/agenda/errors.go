package agenda

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Sentinel error kinds (SPEC_FULL.md §7). Behavioral kinds, not type names —
// callers should match with errors.Is, not by concrete type.
var (
	ErrInvalidArgument  = errors.New("agenda: invalid argument")
	ErrInvalidSchedule  = errors.New("agenda: invalid schedule")
	ErrDuplicateHandler = errors.New("agenda: duplicate handler name")
	ErrUnknownHandler   = errors.New("agenda: unknown handler")
	ErrLeaseLost        = errors.New("agenda: lease lost")

	ErrDisabled = errors.New("agenda: engine disabled")
	ErrStopped  = errors.New("agenda: engine stopped")
	ErrStopping = errors.New("agenda: engine stopping")
)

// NoRetry marks a handler error as non-retryable: the engine will not
// reschedule the job after this failure, regardless of MaxRetryCount.
//
// Example:
//
//	return agenda.NoRetry(fmt.Errorf("bad payload: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return "no-retry: " + e.err.Error() }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter provides a suggested delay before retrying, overriding the
// default exponential retryDelay(attempt) schedule for this one failure.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return "retry-after: " + e.err.Error() }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }
