package binanceclient

import (
	"context"
	"errors"
	"time"

	"bracketbot/internal/ports"

	"github.com/jpillora/backoff"
)

const (
	defaultRetryBase = 250 * time.Millisecond
	defaultRetryMax  = 3
	retryCeiling     = 30 * time.Second
)

type retryPolicy struct {
	base        time.Duration
	maxAttempts int
}

func (c *Client) initRetry(base time.Duration, maxAttempts int) {
	if base <= 0 {
		base = defaultRetryBase
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultRetryMax
	}
	c.retry = retryPolicy{base: base, maxAttempts: maxAttempts}
}

// isTransient reports whether the error is worth retrying. Auth failures and
// order rejections are permanent; only connectivity and throttling recover.
func isTransient(err error) bool {
	return errors.Is(err, ports.ErrRateLimited) ||
		errors.Is(err, ports.ErrTimeout) ||
		errors.Is(err, ports.ErrConnectionFailed) ||
		errors.Is(err, ports.ErrExchangeUnavailable)
}

// withRetry runs fn up to maxAttempts times, backing off between attempts.
// Only transient failures are retried; everything else surfaces immediately.
func (c *Client) withRetry(ctx context.Context, operation string, fn func() error) error {
	b := &backoff.Backoff{
		Min:    c.retry.base,
		Max:    retryCeiling,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) || attempt == c.retry.maxAttempts {
			return lastErr
		}

		delay := b.Duration()
		c.logger.Warn(ctx, "transient exchange error, retrying", map[string]interface{}{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay.String(),
			"error":     lastErr.Error(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
