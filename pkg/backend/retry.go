package backend

import (
	"context"
	"log"
	"time"
)

const (
	retryMaxAttempts  = 4 // first try plus three retries
	retryInitialDelay = time.Second
	retryBackoff      = 2
)

// Retry runs fn, retrying transient failures with exponential backoff.
// Non-retryable errors propagate immediately; when all attempts fail the
// last observed error is returned unchanged so callers can branch on its
// classification.
func Retry(ctx context.Context, logger *log.Logger, fn func() error) error {
	delay := retryInitialDelay
	var lastErr error

	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == retryMaxAttempts {
			if logger != nil {
				logger.Printf("all %d attempts failed", retryMaxAttempts)
			}
			break
		}
		if logger != nil {
			logger.Printf("attempt %d/%d failed: %v. Retrying in %s...", attempt, retryMaxAttempts, lastErr, delay)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= retryBackoff
	}
	return lastErr
}
