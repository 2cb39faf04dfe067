// Package googlecal wraps the Google Calendar v3 events API for the sync
// engine. It provides an [Adapter] with methods aligned to the orchestrator's
// needs, a jittered exponential-backoff [Retry] helper for transient API
// failures, and conversion between the provider's event representation and
// [model.RemoteEvent].
package googlecal

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"
)

const (
	// defaultMaxAttempts is the number of tries before Retry gives up.
	defaultMaxAttempts = 3

	// baseDelay is the starting backoff interval (before jitter).
	baseDelay = 500 * time.Millisecond

	// maxDelay caps the backoff interval.
	maxDelay = 5 * time.Second
)

// Retry executes fn up to maxAttempts times with exponential backoff and
// jitter. Only transient failures (rate limiting, server errors, network
// errors) are retried; a 4xx rejection surfaces immediately. Returns nil on
// the first successful call, or a wrapped error containing the last failure.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for attempt := range maxAttempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(backoffDelay(attempt)):
			}
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}

// retryable classifies an error as transient. Google API errors are judged by
// status code; anything that is not a googleapi error (timeouts, connection
// resets) is assumed transient.
func retryable(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return true
	}
	switch apiErr.Code {
	case http.StatusTooManyRequests:
		return true
	}
	return apiErr.Code >= 500
}

// backoffDelay computes the delay for a given attempt index, applying
// exponential growth with 50–100 % jitter.
func backoffDelay(attempt int) time.Duration {
	delay := baseDelay * (1 << attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	// Jitter: uniform in [delay/2, delay).
	jitter := time.Duration(rand.Int63n(int64(delay) / 2)) //nolint:gosec // jitter does not need crypto/rand
	return delay/2 + jitter
}
