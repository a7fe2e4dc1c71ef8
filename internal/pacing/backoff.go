package pacing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const maxShift = 62

// Exponential returns base * 2^attempt, saturating instead of overflowing.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1 << attempt)
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return base * time.Duration(multiplier)
}

// Jittered spreads d by ±fraction.
func Jittered(d time.Duration, fraction float64) time.Duration {
	if d <= 0 || fraction <= 0 {
		return d
	}

	// #nosec G404 -- pacing jitter, not a secret
	spread := float64(d) * fraction * (rand.Float64()*2 - 1)
	return d + time.Duration(spread)
}

// Backoff is the delay before retry number attempt (0-based): exponential,
// capped at max, with ±25% jitter.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	d := Exponential(base, attempt)
	if max > 0 && d > max {
		d = max
	}

	return Jittered(d, 0.25)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}

// RetryPolicy bounds Retry.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Retry calls fn until it succeeds, returns an error retryable rejects, or
// MaxRetries retries are used up. The last error is returned.
func Retry(ctx context.Context, policy RetryPolicy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	var err error

	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || attempt >= policy.MaxRetries || !retryable(err) {
			return err
		}

		if sleepErr := Sleep(ctx, Backoff(policy.BaseDelay, policy.MaxDelay, attempt)); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
	}
}
