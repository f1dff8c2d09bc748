package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var errRetriesExhausted = errors.New("retries exhausted")

type retryPolicy struct {
	attempts  int
	baseDelay time.Duration
}

// retryWithBackoff runs fn until it succeeds, returns an error transient
// rejects, or the attempts run out. Delays double from baseDelay: 1x, 2x, 4x.
func retryWithBackoff[T any](ctx context.Context, p retryPolicy, transient func(error) bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * p.baseDelay
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			}
		}

		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, err
		}
		if !transient(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", errRetriesExhausted, attempts, lastErr)
}
