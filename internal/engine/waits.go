package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrWaitTimeout is returned by WaitFor when the condition never held.
var ErrWaitTimeout = errors.New("wait timed out")

// RetryCall retries fn up to maxRetries extra times with a constant
// backoff. fn signals retryability via retry.RetryableError; any other
// error stops immediately.
func RetryCall(ctx context.Context, maxRetries uint64, backoff time.Duration, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, retry.WithMaxRetries(maxRetries, retry.NewConstant(backoff)), fn)
}

// WaitFor polls done every poll interval until it reports true, the
// timeout elapses, or ctx is cancelled. A polling error stops the wait.
func WaitFor(ctx context.Context, timeout, poll time.Duration, done func(ctx context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := time.NewTicker(poll)
	defer t.Stop()

	for {
		ok, err := done(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrWaitTimeout
			}
			return ctx.Err()
		case <-t.C:
		}
	}
}
