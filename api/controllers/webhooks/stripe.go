package webhooks

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/AbeJitsu/need-this-done-backend/api/responses"
	stripewebhook "github.com/AbeJitsu/need-this-done-backend/internal/webhooks/stripe"
	"github.com/AbeJitsu/need-this-done-backend/pkg/config"
	pkgerrors "github.com/AbeJitsu/need-this-done-backend/pkg/errors"
	"github.com/AbeJitsu/need-this-done-backend/pkg/logger"
	"github.com/AbeJitsu/need-this-done-backend/pkg/metrics"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

type StripeWebhookService interface {
	ValidationError(event *stripe.Event) string
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
}

// StripeWebhook verifies, deduplicates, and processes Stripe events. Handler
// failures run through the retry engine, and the response status tells Stripe
// whether redelivering the event could ever help: 500 asks for a retry, 200
// acknowledges even permanent failures so a poisoned event stops recycling.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard stripeWebhookGuard, cfg config.WebhookConfig, wm *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify signature"))
			return
		}

		if logg != nil {
			ctx = logg.WithEventID(ctx, event.ID)
		}

		// Structural validation runs before the handler; a malformed
		// payload can never become valid on redelivery.
		if msg := svc.ValidationError(&event); msg != "" {
			wm.IncOutcome(string(event.Type), "invalid_payload")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, msg))
			return
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			wm.IncOutcome(string(event.Type), "duplicate")
			responses.WriteSuccess(w, nil)
			return
		}

		start := time.Now()
		result := stripewebhook.WithWebhookRetry(ctx, logg, stripewebhook.RetryOptions{
			Operation:    "stripe_webhook." + string(event.Type),
			MaxRetries:   cfg.MaxRetries,
			Timeout:      cfg.Timeout,
			InitialDelay: cfg.InitialDelay,
			Metrics:      wm,
		}, func(ctx context.Context) error {
			return svc.HandleEvent(ctx, &event)
		})
		wm.ObserveDuration(string(event.Type), time.Since(start))

		status := stripewebhook.StatusCode(ctx, logg, result)

		switch {
		case result.Success:
			wm.IncOutcome(string(event.Type), "success")
		case status == http.StatusOK:
			wm.IncOutcome(string(event.Type), "permanent_failure")
		default:
			// Retryable failure: clear the guard so Stripe's redelivery
			// is not swallowed as a duplicate.
			if err := guard.Delete(ctx, event.ID); err != nil && logg != nil {
				warnCtx := logg.WithField(ctx, "error", err.Error())
				logg.Warn(warnCtx, "failed to clear idempotency guard; redelivery blocked until TTL expiry")
			}
			wm.IncOutcome(string(event.Type), "retryable_failure")
		}

		if result.Success {
			responses.WriteSuccess(w, result)
			return
		}
		responses.WriteStatusJSON(w, status, result)
	}
}
