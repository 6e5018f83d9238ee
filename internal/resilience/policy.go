// Package resilience bounds calls to external collaborators with per-attempt timeouts and retries.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy describes how one collaborator call is attempted.
type Policy struct {
	// Timeout bounds each attempt. Zero leaves attempts bounded only by the caller's context.
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// Budget is the longest Do can run when every attempt times out: each attempt's timeout plus the
// exponential waits between them.
func (p Policy) Budget() time.Duration {
	base := p.backoff()
	retries := max(p.MaxRetries, 0)
	total := time.Duration(retries+1) * p.Timeout
	for i := range retries {
		total += base << i
	}
	return total
}

func (p Policy) backoff() time.Duration {
	if p.Backoff <= 0 {
		return 100 * time.Millisecond
	}
	return p.Backoff
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, returns a Permanent error, the retries are spent, or ctx ends.
// An attempt that hits its own timeout is retried; cancellation of ctx is not.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	base := p.backoff()
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewExponential(base)) // #nosec G115 -- clamped above

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		callErr := fn(attemptCtx)
		if callErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(callErr, &perm) || ctx.Err() != nil {
			return callErr
		}
		return retry.RetryableError(callErr)
	})
	var perm *permanentError
	if errors.As(err, &perm) {
		return perm.err
	}
	return err
}
