package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path (a missing file or empty path means "no
// file"), then applies defaults, environment overrides and validation.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides copies EOG_* variables (plus the platform's PORT and
// DATABASE_URL) over the file values.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("PORT"); val != "" {
		cfg.Server.Port = val
	}
	if val := os.Getenv("EOG_DEBUG"); val != "" {
		cfg.Server.Debug = parseBool(val, cfg.Server.Debug)
	}
	if val := os.Getenv("EOG_TRUST_PROXY_HEADERS"); val != "" {
		cfg.Server.TrustProxyHeaders = parseBool(val, cfg.Server.TrustProxyHeaders)
	}
	if val := os.Getenv("EOG_ALLOWED_ORIGINS"); val != "" {
		cfg.Server.AllowedOrigins = splitList(val)
	}

	if val := os.Getenv("EOG_STORE_DRIVER"); val != "" {
		cfg.Store.Driver = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		cfg.Store.DatabaseURL = val
	}
	if val := os.Getenv("EOG_SQLITE_PATH"); val != "" {
		cfg.Store.SQLitePath = val
	}

	if val := os.Getenv("EOG_TOKEN_SECRET"); val != "" {
		cfg.Auth.TokenSecret = val
	}
	if val := os.Getenv("EOG_EMAIL_PEPPER"); val != "" {
		cfg.Auth.EmailPepper = val
	}
	if val := os.Getenv("EOG_MAGIC_LINK_BASE_URL"); val != "" {
		cfg.Auth.MagicLinkBaseURL = val
	}
	if val := os.Getenv("EOG_API_KEY_PEPPER"); val != "" {
		cfg.APIKeys.Pepper = val
	}
	if val := os.Getenv("EOG_ADMIN_SECRET"); val != "" {
		cfg.Admin.Secret = val
	}
	if val := os.Getenv("EOG_WEBHOOK_SECRET"); val != "" {
		cfg.Billing.WebhookSecret = val
	}
	if val := os.Getenv("EOG_WEBHOOK_TOLERANCE"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Billing.Tolerance = d
		}
	}

	if val := os.Getenv("EOG_QUOTA_INCREMENT_MODE"); val != "" {
		cfg.Quota.IncrementMode = val
	}
	if val := os.Getenv("EOG_ALLOW_ANONYMOUS"); val != "" {
		cfg.Gateway.AllowAnonymous = parseBool(val, cfg.Gateway.AllowAnonymous)
	}
	if val := os.Getenv("EOG_CACHE_VERSION"); val != "" {
		cfg.Cache.Version = val
	}
	if val := os.Getenv("EOG_RENDER_BACKEND_URL"); val != "" {
		cfg.Render.BackendURL = val
	}

	for _, plan := range []string{"free", "starter", "pro"} {
		if val := os.Getenv("EOG_PLAN_" + strings.ToUpper(plan) + "_LIMIT"); val != "" {
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				if cfg.Plans == nil {
					cfg.Plans = map[string]int64{}
				}
				cfg.Plans[plan] = n
			}
		}
	}
}

func parseBool(s string, fallback bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
