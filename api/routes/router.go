package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AbeJitsu/need-this-done-backend/api/controllers"
	webhookcontrollers "github.com/AbeJitsu/need-this-done-backend/api/controllers/webhooks"
	"github.com/AbeJitsu/need-this-done-backend/api/middleware"
	"github.com/AbeJitsu/need-this-done-backend/internal/payments"
	stripewebhook "github.com/AbeJitsu/need-this-done-backend/internal/webhooks/stripe"
	"github.com/AbeJitsu/need-this-done-backend/pkg/config"
	"github.com/AbeJitsu/need-this-done-backend/pkg/db"
	"github.com/AbeJitsu/need-this-done-backend/pkg/logger"
	"github.com/AbeJitsu/need-this-done-backend/pkg/metrics"
	"github.com/AbeJitsu/need-this-done-backend/pkg/redis"
	"github.com/AbeJitsu/need-this-done-backend/pkg/stripe"
)

// Deps carries every dependency the router needs, wired explicitly by the
// caller. Nothing here is constructed lazily.
type Deps struct {
	Config          *config.Config
	Logger          *logger.Logger
	DB              db.Pinger
	Redis           *redis.Client
	StripeClient    *stripe.Client
	PaymentsService payments.Service
	WebhookService  *stripewebhook.Service
	WebhookGuard    *stripewebhook.IdempotencyGuard
	WebhookMetrics  *metrics.WebhookMetrics
	MetricsRegistry *prometheus.Registry
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	if deps.MetricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.MetricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(
			deps.WebhookService,
			deps.StripeClient,
			deps.WebhookGuard,
			cfg.Webhook,
			deps.WebhookMetrics,
			logg,
		))
	})

	r.Route("/api/v1/orders/{orderID}/payments", func(r chi.Router) {
		r.Post("/", controllers.CreatePayment(deps.PaymentsService, logg))
		r.Patch("/", controllers.UpdatePayment(deps.PaymentsService, logg))
		r.Get("/", controllers.ListPayments(deps.PaymentsService, logg))
		r.Get("/stats", controllers.PaymentStats(deps.PaymentsService, logg))
	})

	return r
}
