package stripewebhook

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/AbeJitsu/need-this-done-backend/internal/reliability"
	"github.com/AbeJitsu/need-this-done-backend/pkg/logger"
)

// ResultError describes the terminal failure of a webhook handler run.
type ResultError struct {
	Message          string `json:"message"`
	Code             string `json:"code"`
	RetriesAttempted int    `json:"retries_attempted"`
}

// Result is the structured outcome of one webhook delivery.
type Result struct {
	Success bool         `json:"success"`
	Error   *ResultError `json:"error,omitempty"`
}

// RetryOptions tunes WithWebhookRetry for one delivery.
type RetryOptions struct {
	Operation    string
	MaxRetries   int
	Timeout      time.Duration
	InitialDelay time.Duration
	Metrics      reliability.RetryMetrics
}

// WithWebhookRetry runs handler through the retry engine and folds every
// outcome into a Result; it never panics the delivery and never returns an
// ambiguous state.
func WithWebhookRetry(ctx context.Context, logg *logger.Logger, opts RetryOptions, handler func(context.Context) error) Result {
	// Attempt starts are counted atomically: a timed-out attempt keeps
	// running in the background while the next one begins.
	var attempts atomic.Int64
	_, err := reliability.WithRetry(ctx, logg, reliability.Config{
		Operation:    opts.Operation,
		MaxRetries:   opts.MaxRetries,
		Timeout:      opts.Timeout,
		InitialDelay: opts.InitialDelay,
		Metrics:      opts.Metrics,
	}, func(ctx context.Context) (struct{}, error) {
		attempts.Add(1)
		return struct{}{}, handler(ctx)
	})
	if err == nil {
		return Result{Success: true}
	}

	return Result{
		Success: false,
		Error: &ResultError{
			Message:          err.Error(),
			Code:             reliability.Classify(err).String(),
			RetriesAttempted: int(attempts.Load()) - 1,
		},
	}
}

// StatusCode maps a Result to the HTTP status handed back to Stripe. The
// provider's retry machinery is engaged only when a retry could change the
// outcome: transient and timeout failures return 500 so the event is
// redelivered; permanent failures are acknowledged with 200 and logged for
// operator follow-up, because redelivering bad data can never succeed.
func StatusCode(ctx context.Context, logg *logger.Logger, result Result) int {
	if result.Success {
		return http.StatusOK
	}

	if result.Error != nil && result.Error.Code == reliability.ClassPermanent.String() {
		if logg != nil {
			errCtx := logg.WithFields(ctx, map[string]any{
				"classification":    result.Error.Code,
				"retries_attempted": result.Error.RetriesAttempted,
				"handler_error":     result.Error.Message,
			})
			logg.Error(errCtx, "webhook failed permanently; acknowledged to stop provider retries, needs manual investigation", nil)
		}
		return http.StatusOK
	}

	return http.StatusInternalServerError
}
