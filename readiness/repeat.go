package readiness

// For utilities that assist checking if other things are ready or repeating
// things until they are.

import (
	"context"
	"time"

	"github.com/datatrails/go-datatrails-coordination/logger"
)

// Backoff returns the delay to wait after the attempt'th failure (attempt
// starts at 1).
type Backoff func(attempt int) time.Duration

// LinearBackoff grows the delay by step on every attempt and never exceeds
// max.
func LinearBackoff(step, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := time.Duration(attempt) * step
		if d > max {
			return max
		}
		return d
	}
}

// Repeat repeatedly calls func until it returns without a recoverable error
// or attempts are exhausted. attempts = -1 to try forever. interval is the delay between
// attempts.
func Repeat(attempts int, interval time.Duration, f func() error) error {
	return RepeatWithBackoff(
		context.Background(), attempts,
		func(int) time.Duration { return interval },
		func(context.Context) error { return f() },
	)
}

// RepeatWithBackoff is Repeat with a per attempt delay and a context. The wait
// between attempts is abandoned, and the last error returned, if ctx is done.
func RepeatWithBackoff(ctx context.Context, attempts int, backoff Backoff, f func(context.Context) error) error {
	var err error

	for i := 1; ; i++ {
		err = f(ctx)
		if err == nil {
			return nil
		}

		if IsUnrecoverable(err) {
			return err
		}

		if attempts > -1 && i >= attempts {
			break
		}
		delay := backoff(i)
		logger.Sugar.Debugw(
			"retrying ...",
			"count", i, "delay", delay, "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}

	return err
}
