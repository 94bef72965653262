// Package config loads the gateway configuration from a YAML file, applies
// defaults and EOG_* environment overrides, and validates the result.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Store     StoreConfig      `yaml:"store"`
	Auth      AuthConfig       `yaml:"auth"`
	APIKeys   APIKeysConfig    `yaml:"api_keys"`
	Plans     map[string]int64 `yaml:"plans"`
	Quota     QuotaConfig      `yaml:"quota"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Gateway   GatewayConfig    `yaml:"gateway"`
	Cache     CacheConfig      `yaml:"cache"`
	Render    RenderConfig     `yaml:"render"`
	Billing   BillingConfig    `yaml:"billing"`
	Admin     AdminConfig      `yaml:"admin"`
	Jobs      JobsConfig       `yaml:"jobs"`
}

type ServerConfig struct {
	Port              string        `yaml:"port"`
	Debug             bool          `yaml:"debug"`
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the KV backend: memory, postgres or sqlite.
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
}

type AuthConfig struct {
	TokenSecret string `yaml:"token_secret"`
	// EmailPepper keys the hash under which email addresses are stored.
	EmailPepper      string        `yaml:"email_pepper"`
	MagicLinkBaseURL string        `yaml:"magic_link_base_url"`
	MagicLinkTTL     time.Duration `yaml:"magic_link_ttl"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
}

type APIKeysConfig struct {
	Pepper string `yaml:"pepper"`
}

const (
	IncrementAfterRender  = "after_render"
	IncrementBeforeRender = "before_render"
)

type QuotaConfig struct {
	IncrementMode string `yaml:"increment_mode"`
}

type RateLimitConfig struct {
	Window time.Duration `yaml:"window"`
	Max    int           `yaml:"max"`
}

type GatewayConfig struct {
	AllowAnonymous    bool          `yaml:"allow_anonymous"`
	BackgroundTimeout time.Duration `yaml:"background_timeout"`
}

type CacheConfig struct {
	// Version is the deployment-wide cache version; a request's version
	// parameter takes precedence.
	Version   string `yaml:"version"`
	MaxAge    int    `yaml:"max_age"`
	Immutable bool   `yaml:"immutable"`
}

// RenderConfig points at the render backend. With no BackendURL a built-in
// SVG placeholder renderer is used.
type RenderConfig struct {
	BackendURL string        `yaml:"backend_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

type BillingConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
	// Tolerance bounds the age of a signed webhook timestamp. Zero means the
	// default; a negative value disables the check.
	Tolerance time.Duration `yaml:"tolerance"`
}

type AdminConfig struct {
	Secret string `yaml:"secret"`
}

type JobsConfig struct {
	OverageReportCron string `yaml:"overage_report_cron"`
	SweepCron         string `yaml:"sweep_cron"`
}
