// Package retry is the single retry-with-backoff-and-timeout combinator used
// by the puller and the queue processor.
package retry

import (
	"context"
	"errors"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy describes how many attempts to make and how long to wait.
type Policy struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int
	// Delay is the base delay; the n-th wait is n*Delay (linear backoff).
	Delay time.Duration
	// Timeout bounds every single attempt. Zero means no per-attempt bound.
	Timeout time.Duration
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Linear returns a backoff that waits base, 2*base, 3*base, ...
func Linear(base time.Duration) goretry.Backoff {
	var n int64
	return goretry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return time.Duration(n) * base, false
	})
}

// Do calls fn until it succeeds, returns a permanent error, the attempts are
// used up or ctx is done. It returns the last error fn produced.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := goretry.WithMaxRetries(uint64(attempts-1), Linear(p.Delay))

	return goretry.Do(ctx, b, func(ctx context.Context) error {
		actx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		err := fn(actx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return err
		}
		return goretry.RetryableError(err)
	})
}
