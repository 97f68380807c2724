package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/creditsync/api/controllers"
	webhookcontrollers "github.com/angelmondragon/creditsync/api/controllers/webhooks"
	"github.com/angelmondragon/creditsync/api/middleware"
	"github.com/angelmondragon/creditsync/internal/entitlements"
	stripewebhook "github.com/angelmondragon/creditsync/internal/webhooks/stripe"
	"github.com/angelmondragon/creditsync/pkg/config"
	"github.com/angelmondragon/creditsync/pkg/enums"
	"github.com/angelmondragon/creditsync/pkg/logger"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config       *config.Config
	Logger       *logger.Logger
	Engine       *stripewebhook.Engine
	Entitlements *entitlements.Service
	ReadyChecks  []controllers.ReadyCheck
	Gatherer     prometheus.Gatherer
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.ReadyChecks...))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.Engine, cfg.Stripe.MaxBodyBytes, logg))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Route("/v1/entitlements", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.OperatorRoleAdmin, enums.OperatorRoleSupport))
			r.Get("/{userId}", controllers.AdminEntitlementGet(deps.Entitlements, logg))
		})
	})

	return r
}
