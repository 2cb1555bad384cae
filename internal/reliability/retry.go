package reliability

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/AbeJitsu/need-this-done-backend/pkg/logger"
)

const (
	// DefaultInitialDelay seeds the backoff sequence when none is configured.
	DefaultInitialDelay = 250 * time.Millisecond
	// DefaultMaxDelay caps the exponential backoff.
	DefaultMaxDelay = 30 * time.Second

	jitterFraction = 0.1
)

// RetryMetrics receives observability callbacks from the retry loop.
type RetryMetrics interface {
	IncRetryAttempt(operation string, class string)
}

// Config tunes a single WithRetry invocation.
type Config struct {
	// Operation labels log entries and timeout errors.
	Operation string
	// MaxRetries is the retry budget; total attempts are MaxRetries+1.
	MaxRetries int
	// Timeout bounds each individual attempt. Zero disables the bound.
	Timeout time.Duration
	// InitialDelay seeds the exponential backoff.
	InitialDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// Metrics is optional.
	Metrics RetryMetrics
}

// WithRetry runs op up to cfg.MaxRetries+1 times, each attempt bounded by
// cfg.Timeout. Permanent errors stop the loop immediately; transient and
// timeout errors back off exponentially with jitter before the next attempt.
// The attempts within one invocation are strictly sequential.
func WithRetry[T any](ctx context.Context, logg *logger.Logger, cfg Config, op func(context.Context) (T, error)) (T, error) {
	var zero T

	initialDelay := cfg.InitialDelay
	if initialDelay <= 0 {
		initialDelay = DefaultInitialDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		value, err := WithTimeout(ctx, cfg.Timeout, cfg.Operation, op)
		if err == nil {
			return value, nil
		}
		lastErr = err

		class := Classify(err)
		if cfg.Metrics != nil {
			cfg.Metrics.IncRetryAttempt(cfg.Operation, class.String())
		}
		if logg != nil {
			attemptCtx := logg.WithFields(ctx, map[string]any{
				"operation":      cfg.Operation,
				"attempt":        attempt,
				"max_retries":    cfg.MaxRetries,
				"classification": class.String(),
			})
			logg.Warn(attemptCtx, "operation attempt failed")
		}

		if !class.Retryable() {
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoffDelay(attempt, initialDelay, maxDelay)):
		}
	}

	return zero, lastErr
}

// backoffDelay grows exponentially from initialDelay, capped at maxDelay,
// with uniform jitter up to 10% added to spread synchronized retries.
func backoffDelay(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	delay := initialDelay << uint(attempt)
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Float64() * jitterFraction * float64(delay))
	return delay + jitter
}
