package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const (
	// DefaultRetryAfterErrorPeriod is the base delay between retries.
	DefaultRetryAfterErrorPeriod = time.Millisecond * 300
	// DefaultMaxRetryAttemptsAfterError bounds consecutive retries of one call.
	DefaultMaxRetryAttemptsAfterError = 5

	maxBackoffShift = 6
)

// RetryHandler implements capped exponential backoff with jitter for
// transient network errors. Any MaxRetryAttemptsAfterError smaller than
// zero is considered as unlimited retries.
type RetryHandler struct {
	MaxRetryAttemptsAfterError int
	RetryAfterErrorPeriod      time.Duration
}

// NewRetryHandler returns a RetryHandler with the given bounds, applying
// defaults for zero values.
func NewRetryHandler(maxAttempts int, baseDelay time.Duration) *RetryHandler {
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxRetryAttemptsAfterError
	}
	if baseDelay < DefaultRetryAfterErrorPeriod {
		baseDelay = DefaultRetryAfterErrorPeriod
	}
	return &RetryHandler{
		MaxRetryAttemptsAfterError: maxAttempts,
		RetryAfterErrorPeriod:      baseDelay,
	}
}

// Handle sleeps before the next attempt of funcName, backing off
// exponentially with jitter. It returns an error once attempts are
// exhausted or the context is cancelled, so callers stop retrying and
// surface partial results instead of discarding progress.
func (rh *RetryHandler) Handle(ctx context.Context, funcName string, attempts int) error {
	if rh.MaxRetryAttemptsAfterError >= 0 && attempts >= rh.MaxRetryAttemptsAfterError {
		return fmt.Errorf(
			"%s failed too many times (%d)",
			funcName, rh.MaxRetryAttemptsAfterError,
		)
	}
	shift := attempts
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	delay := rh.RetryAfterErrorPeriod << shift
	delay += time.Duration(rand.Int63n(int64(rh.RetryAfterErrorPeriod))) //nolint:gosec

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
