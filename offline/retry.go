// ABOUTME: Retry logic with exponential backoff for idempotent gateway calls.
// ABOUTME: Bounds transient failures inside a single call; the engine never retries on a timer.
package offline

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// RetryConfig controls retry behavior.
type RetryConfig struct {
	MaxAttempts int           // maximum number of attempts (default: 3)
	InitialWait time.Duration // wait before first retry (default: 250ms)
	MaxWait     time.Duration // maximum wait between retries (default: 2s)
	Multiplier  float64       // backoff multiplier (default: 2.0)
}

// DefaultRetryConfig returns sensible defaults for interactive use.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 250 * time.Millisecond,
		MaxWait:     2 * time.Second,
		Multiplier:  2.0,
	}
}

// Retryable returns true if the error should trigger a retry.
// Network failures and server errors are retryable; auth and not-found are
// not. A 4xx rejection other than 429 fails the same way on every attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var re *remoteError
	if errors.As(err, &re) && re.status >= 400 && re.status < 500 && re.status != http.StatusTooManyRequests {
		return false
	}
	return errors.Is(err, ErrNetworkFailure) || errors.Is(err, ErrServerError)
}

// WithRetry executes fn with retry logic.
// Returns result on success, or a SyncError after exhausting retries.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, op string, id ID, fn func() (T, error)) (T, error) {
	var zero T
	wait := cfg.InitialWait
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		if !Retryable(err) || attempt == cfg.MaxAttempts {
			return zero, wrapSyncError(op, id, err, attempt)
		}

		select {
		case <-ctx.Done():
			return zero, wrapSyncError(op, id, networkError(ctx.Err()), attempt)
		case <-time.After(wait):
		}

		wait = time.Duration(float64(wait) * cfg.Multiplier)
		if cfg.MaxWait > 0 && wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
	}

	return zero, &SyncError{Op: op, ID: id, Err: ErrNetworkFailure, Retries: cfg.MaxAttempts}
}

func wrapSyncError(op string, id ID, err error, attempts int) error {
	se := &SyncError{Op: op, ID: id, Err: err, Retries: attempts}
	var re *remoteError
	if errors.As(err, &re) {
		se.Detail = re.detail
	}
	return se
}
