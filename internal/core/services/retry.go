package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

// jitter is the random spread added to every backoff interval.
const jitter = 50 * time.Millisecond

// newBackoff builds a capped exponential backoff with jitter that allows
// s.MaxAttempts attempts in total.
func newBackoff(s domain.RetrySettings) retry.Backoff {
	base := s.BaseDelay.Duration
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	backoff := retry.NewExponential(base)
	if s.MaxDelay.Duration > 0 {
		backoff = retry.WithCappedDuration(s.MaxDelay.Duration, backoff)
	}
	backoff = retry.WithJitter(jitter, backoff)

	retries := uint64(0)
	if s.MaxAttempts > 1 {
		retries = uint64(s.MaxAttempts - 1)
	}
	return retry.WithMaxRetries(retries, backoff)
}

// withStoreRetry runs fn with a per-call timeout and retries it while it
// fails with domain.ErrStoreUnavailable.
func withStoreRetry(ctx context.Context, s domain.RetrySettings, timeout time.Duration, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, newBackoff(s), func(ctx context.Context) error {
		callCtx, cancel := withTimeout(ctx, timeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: call timed out: %w", domain.ErrStoreUnavailable, err)
		}
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// withTimeout applies timeout when it is positive.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
