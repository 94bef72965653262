package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/cors"

	"github.com/edgeog/backend/internal/apikeys"
	"github.com/edgeog/backend/internal/auth"
	"github.com/edgeog/backend/internal/background"
	"github.com/edgeog/backend/internal/cacheid"
	"github.com/edgeog/backend/internal/config"
	"github.com/edgeog/backend/internal/gateway"
	"github.com/edgeog/backend/internal/jobs"
	"github.com/edgeog/backend/internal/ledger"
	"github.com/edgeog/backend/internal/logger"
	"github.com/edgeog/backend/internal/metrics"
	"github.com/edgeog/backend/internal/ratelimit"
	"github.com/edgeog/backend/internal/render"
	"github.com/edgeog/backend/internal/repository"
	"github.com/edgeog/backend/internal/validation"
)

func main() {
	cfgPath := os.Getenv("EOG_CONFIG")
	if cfgPath == "" {
		cfgPath = "edgeog.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Invalid configuration", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Debug)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		log.Error("Unable to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer be.close()

	m := metrics.New()
	runner := background.NewRunner(log, m, cfg.Gateway.BackgroundTimeout)

	validator, err := validation.New()
	if err != nil {
		log.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	// Ledgers
	plans := ledger.NewPlanTable(cfg.Plans)
	quota := ledger.NewQuotaLedger(be.store, plans)
	overage := ledger.NewOverageLedger(be.store)

	// Accounts, keys & auth
	accounts := repository.NewAccountRepo(be.store)
	keySvc := apikeys.NewService(repository.NewAPIKeyRepo(be.store), []byte(cfg.APIKeys.Pepper), runner, log)
	authSvc := auth.NewService(accounts, nil, auth.Config{
		TokenSecret:  []byte(cfg.Auth.TokenSecret),
		EmailPepper:  []byte(cfg.Auth.EmailPepper),
		BaseURL:      cfg.Auth.MagicLinkBaseURL,
		MagicLinkTTL: cfg.Auth.MagicLinkTTL,
		SessionTTL:   cfg.Auth.SessionTTL,
	}, log)

	// Rendering
	var renderer render.Renderer = render.Placeholder{}
	if cfg.Render.BackendURL != "" {
		renderer = render.NewHTTPRenderer(cfg.Render.BackendURL, cfg.Render.Timeout, log, m)
	} else {
		log.Warn("No render backend configured, serving placeholder images")
	}

	var anon gateway.Limiter
	if cfg.Gateway.AllowAnonymous {
		anon = ratelimit.New(be.store, ratelimit.ScopeImage, log,
			ratelimit.WithWindow(cfg.RateLimit.Window), ratelimit.WithMax(cfg.RateLimit.Max), ratelimit.WithMetrics(m))
	}
	gw := gateway.New(gateway.Config{
		IncrementMode:     cfg.Quota.IncrementMode,
		AllowAnonymous:    cfg.Gateway.AllowAnonymous,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		DefaultVersion:    cfg.Cache.Version,
		Cache:             cacheid.HeaderPolicy{MaxAge: cfg.Cache.MaxAge, Immutable: cfg.Cache.Immutable},
	}, gateway.Deps{
		Quota:      quota,
		Overage:    overage,
		Renderer:   renderer,
		Anonymous:  anon,
		Background: runner,
		Metrics:    m,
		Logger:     log,
	})

	handler := buildHandler(services{
		cfg:       cfg,
		accounts:  accounts,
		keys:      keySvc,
		auth:      authSvc,
		quota:     quota,
		overage:   overage,
		gateway:   gw,
		magicLink: ratelimit.New(be.store, ratelimit.ScopeMagicLink, log,
			ratelimit.WithWindow(cfg.RateLimit.Window), ratelimit.WithMax(cfg.RateLimit.Max), ratelimit.WithMetrics(m)),
		validator: validator,
		metrics:   m,
	}, log)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Correlation-ID", "X-Cache-Version"},
		ExposedHeaders:   []string{"ETag", "X-Correlation-ID", "X-Quota-Limit", "X-Quota-Remaining", "Retry-After"},
		AllowCredentials: true,
	}).Handler(handler)

	// Background jobs: River on Postgres, a plain sweep loop otherwise.
	if be.pool != nil {
		if err := jobs.Migrate(ctx, be.pool); err != nil {
			log.Error("River migrations failed", "error", err)
			os.Exit(1)
		}
		log.Info("River migrations applied")
		riverClient, err := jobs.NewClient(be.pool, cfg.Jobs, overage, be.sweeper, log)
		if err != nil {
			log.Error("Failed to create River client", "error", err)
			os.Exit(1)
		}
		if err := riverClient.Start(ctx); err != nil {
			log.Error("River client failed to start", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := riverClient.Stop(stopCtx); err != nil {
				log.Warn("River client stop", "error", err)
			}
		}()
	} else {
		sched, err := jobs.Schedule(cfg.Jobs.SweepCron)
		if err != nil {
			log.Error("Invalid sweep schedule", "error", err)
			os.Exit(1)
		}
		go jobs.RunSweepLoop(ctx, sched, be.sweeper, log)
	}

	// Plan limits follow the config file.
	go func() {
		err := config.Watch(ctx, cfgPath, log, func(next *config.Config) {
			plans.Replace(next.Plans)
			log.Info("Plan limits reloaded", "plans", next.Plans)
		})
		if err != nil {
			log.Warn("Config watch disabled", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Server.Port,
		Handler:      corsHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Info("Starting HTTP server", "addr", srv.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown", "error", err)
	}
	runner.Wait()
}
