package db

import (
	"context"
	"time"

	"github.com/AbeJitsu/need-this-done-backend/internal/reliability"
	"github.com/AbeJitsu/need-this-done-backend/pkg/logger"
)

const (
	// Per-attempt bound for a single database call.
	queryTimeout = 10 * time.Second
	// First backoff step between database retries.
	queryInitialDelay = 100 * time.Millisecond

	defaultQueryRetries = 3
)

// QueryConfig tunes one WithPersistenceRetry invocation.
type QueryConfig struct {
	// Operation labels logs and timeout errors.
	Operation string
	// MaxRetries overrides the default retry budget when positive.
	MaxRetries int
	// RetryOnlyTransient, when set, emits a classifier-gap warning if the
	// terminal error was never recognized as transient.
	RetryOnlyTransient bool
	// Metrics is optional.
	Metrics reliability.RetryMetrics
}

// WithPersistenceRetry runs queryFn through the retry engine with timeouts
// and delays tuned for database calls. queryFn is any database interaction
// that returns data or an error; the adapter has no opinion on the client
// shape behind it.
func WithPersistenceRetry[T any](ctx context.Context, logg *logger.Logger, cfg QueryConfig, queryFn func(context.Context) (T, error)) (T, error) {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultQueryRetries
	}

	value, err := reliability.WithRetry(ctx, logg, reliability.Config{
		Operation:    cfg.Operation,
		MaxRetries:   maxRetries,
		Timeout:      queryTimeout,
		InitialDelay: queryInitialDelay,
		Metrics:      cfg.Metrics,
	}, queryFn)

	if err != nil && cfg.RetryOnlyTransient {
		if class := reliability.Classify(err); !class.Retryable() {
			if logg != nil {
				warnCtx := logg.WithFields(ctx, map[string]any{
					"operation":      cfg.Operation,
					"classification": class.String(),
				})
				logg.Warn(warnCtx, "query entered retry path but terminal error is not transient")
			}
		}
	}

	return value, err
}
