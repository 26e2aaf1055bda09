package services

import (
	"context"
	"errors"
	"log"
	"time"
)

// RetryConfig bounds the retry loop around upstream AI calls.
type RetryConfig struct {
	MaxAttempts  int           // total attempts, not extra retries
	InitialDelay time.Duration // delay before the second attempt; doubles each retry
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
	}
}

// withRetry runs op up to cfg.MaxAttempts times. A failure is retried only
// when isTransient reports it as a temporary overload and attempts remain;
// any other failure propagates immediately and unchanged. The backoff sleep
// doubles per retry and respects ctx cancellation.
func withRetry[T any](ctx context.Context, cfg RetryConfig, isTransient func(error) bool, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !isTransient(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		log.Printf("Transient upstream failure (attempt %d/%d), retrying in %v: %v",
			attempt, cfg.MaxAttempts, delay, err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}

	if lastErr == nil {
		// Loop finished without a result or an error; should be unreachable.
		lastErr = errors.New("retry attempts exhausted")
	}
	return zero, lastErr
}
