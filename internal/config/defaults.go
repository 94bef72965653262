package config

import "time"

// DefaultPlans are the monthly request limits per plan.
var DefaultPlans = map[string]int64{
	"free":    1000,
	"starter": 50000,
	"pro":     200000,
}

// ApplyDefaults fills zero values. Secrets have no defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 20 * time.Second
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "edgeog.db"
	}

	if cfg.Auth.MagicLinkTTL == 0 {
		cfg.Auth.MagicLinkTTL = 15 * time.Minute
	}
	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = 24 * time.Hour
	}
	if cfg.Auth.MagicLinkBaseURL == "" {
		cfg.Auth.MagicLinkBaseURL = "http://localhost:8080/auth/verify"
	}

	if cfg.Plans == nil {
		cfg.Plans = make(map[string]int64, len(DefaultPlans))
	}
	for plan, limit := range DefaultPlans {
		if _, ok := cfg.Plans[plan]; !ok {
			cfg.Plans[plan] = limit
		}
	}

	if cfg.Quota.IncrementMode == "" {
		cfg.Quota.IncrementMode = IncrementAfterRender
	}

	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = 5 * time.Minute
	}
	if cfg.RateLimit.Max == 0 {
		cfg.RateLimit.Max = 5
	}

	if cfg.Gateway.BackgroundTimeout == 0 {
		cfg.Gateway.BackgroundTimeout = 10 * time.Second
	}

	if cfg.Cache.MaxAge == 0 {
		cfg.Cache.MaxAge = 86400
	}

	if cfg.Render.Timeout == 0 {
		cfg.Render.Timeout = 10 * time.Second
	}

	if cfg.Billing.Tolerance == 0 {
		cfg.Billing.Tolerance = 5 * time.Minute
	}

	if cfg.Jobs.OverageReportCron == "" {
		cfg.Jobs.OverageReportCron = "CRON_TZ=UTC 5 0 * * *"
	}
	if cfg.Jobs.SweepCron == "" {
		cfg.Jobs.SweepCron = "CRON_TZ=UTC */30 * * * *"
	}
}
