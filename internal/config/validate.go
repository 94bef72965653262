package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError is a validation error for one configuration field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

const minSecretLen = 16

// Validate checks the configuration and returns a ValidationError listing
// every problem, or nil.
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, msg string) { errs = append(errs, FieldError{Field: field, Message: msg}) }

	secrets := map[string]string{
		"auth.token_secret":      cfg.Auth.TokenSecret,
		"auth.email_pepper":      cfg.Auth.EmailPepper,
		"api_keys.pepper":        cfg.APIKeys.Pepper,
		"admin.secret":           cfg.Admin.Secret,
		"billing.webhook_secret": cfg.Billing.WebhookSecret,
	}
	for _, field := range []string{"auth.token_secret", "auth.email_pepper", "api_keys.pepper", "admin.secret", "billing.webhook_secret"} {
		if len(secrets[field]) < minSecretLen {
			add(field, fmt.Sprintf("must be set and at least %d characters", minSecretLen))
		}
	}

	switch cfg.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			add("store.database_url", "required when store.driver is postgres")
		}
	default:
		add("store.driver", fmt.Sprintf("unknown driver %q (memory, postgres, sqlite)", cfg.Store.Driver))
	}

	for _, plan := range []string{"free", "starter", "pro"} {
		if cfg.Plans[plan] <= 0 {
			add("plans."+plan, "limit must be positive")
		}
	}

	switch cfg.Quota.IncrementMode {
	case IncrementAfterRender, IncrementBeforeRender:
	default:
		add("quota.increment_mode", fmt.Sprintf("must be %s or %s", IncrementAfterRender, IncrementBeforeRender))
	}

	if cfg.RateLimit.Max < 1 {
		add("rate_limit.max", "must be at least 1")
	}
	if cfg.RateLimit.Window <= 0 {
		add("rate_limit.window", "must be positive")
	}
	if cfg.Cache.MaxAge < 0 {
		add("cache.max_age", "must not be negative")
	}

	for field, spec := range map[string]string{
		"jobs.overage_report_cron": cfg.Jobs.OverageReportCron,
		"jobs.sweep_cron":          cfg.Jobs.SweepCron,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			add(field, err.Error())
		}
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
