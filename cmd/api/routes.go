package main

import (
	"log/slog"
	"net/http"

	"github.com/edgeog/backend/internal/admin"
	"github.com/edgeog/backend/internal/apikeys"
	"github.com/edgeog/backend/internal/auth"
	"github.com/edgeog/backend/internal/billing"
	"github.com/edgeog/backend/internal/config"
	"github.com/edgeog/backend/internal/dashboard"
	"github.com/edgeog/backend/internal/gateway"
	"github.com/edgeog/backend/internal/ledger"
	"github.com/edgeog/backend/internal/metrics"
	"github.com/edgeog/backend/internal/middleware"
	"github.com/edgeog/backend/internal/ratelimit"
	"github.com/edgeog/backend/internal/repository"
	"github.com/edgeog/backend/internal/router"
	"github.com/edgeog/backend/internal/validation"
)

type services struct {
	cfg       *config.Config
	accounts  *repository.AccountRepo
	keys      *apikeys.Service
	auth      *auth.Service
	quota     *ledger.QuotaLedger
	overage   *ledger.OverageLedger
	gateway   *gateway.Gateway
	magicLink *ratelimit.Limiter
	validator *validation.Validator
	metrics   *metrics.Collector
}

// buildHandler mounts every route and wraps the mux in the request-scoped
// middleware.
func buildHandler(s services, log *slog.Logger) http.Handler {
	imageAuth := middleware.Authenticate(s.keys, s.auth, s.accounts, middleware.AuthOptions{
		AllowAPIKeys: true,
		AllowQuery:   true,
		Optional:     true,
	}, log)
	sessionAuth := middleware.Authenticate(s.keys, s.auth, s.accounts, middleware.AuthOptions{}, log)

	mux := router.New(router.Routes{
		Auth:      auth.NewHandler(s.auth, s.validator, log),
		Dashboard: dashboard.NewHandler(s.accounts, s.keys, s.quota, s.validator, log),
		Admin:     admin.NewHandler(s.quota, s.overage, s.validator, log),
		Billing: billing.NewHandler(
			billing.NewVerifier(s.cfg.Billing.WebhookSecret, s.cfg.Billing.Tolerance),
			s.accounts, s.validator, log),
		Image:   s.gateway,
		Metrics: s.metrics.Handler(),

		ImageAuth:      imageAuth,
		SessionAuth:    sessionAuth,
		AdminAuth:      admin.RequireSecret(s.cfg.Admin.Secret, log),
		MagicLinkLimit: ratelimit.Middleware(s.magicLink, s.cfg.Server.TrustProxyHeaders),
	})

	return middleware.Chain(mux,
		middleware.Correlation,
		middleware.Recover(log),
		middleware.RequestLogger(log),
	)
}
