package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/edgeog/backend/internal/apierr"
	"github.com/edgeog/backend/internal/apikeys"
	"github.com/edgeog/backend/internal/keys"
	"github.com/edgeog/backend/internal/logger"
	"github.com/edgeog/backend/internal/models"
)

type contextKey string

const ctxPrincipalKey contextKey = "principal"

type Method string

const (
	MethodAPIKey  Method = "api_key"
	MethodSession Method = "session"
)

// Principal is the authenticated caller.
type Principal struct {
	AccountID uuid.UUID
	Plan      models.Plan
	// KeyID is set for API key callers only.
	KeyID  string
	Method Method
}

// MeterID is the subject usage is counted against: the API key id, or
// session:{accountId} for browser sessions.
func (p *Principal) MeterID() string {
	if p.KeyID != "" {
		return p.KeyID
	}
	return SessionMeterID(p.AccountID)
}

// SessionMeterID is the meter for an account's session-authenticated usage.
func SessionMeterID(accountID uuid.UUID) string {
	return "session:" + accountID.String()
}

// KeyValidator validates API keys.
type KeyValidator interface {
	Validate(ctx context.Context, candidate string) (*apikeys.Match, error)
}

// SessionAuthenticator resolves session tokens.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, sessionToken string) (*models.Account, error)
}

// AccountLookup loads the account behind a validated API key.
type AccountLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type AuthOptions struct {
	// AllowAPIKeys accepts API keys in addition to session tokens.
	AllowAPIKeys bool
	// AllowQuery also reads ?key= and ?token= (image embeds cannot set
	// headers).
	AllowQuery bool
	// Optional lets requests without any credential through with no
	// principal. A credential that is present but invalid is still refused.
	Optional bool
}

// Authenticate resolves the request's credential to a Principal. Every
// failure is the same opaque 401, and lookup errors refuse rather than
// admit.
func Authenticate(keyValidator KeyValidator, sessions SessionAuthenticator, accounts AccountLookup, opts AuthOptions, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractCredential(r, opts)
			if raw == "" {
				if opts.Optional {
					next.ServeHTTP(w, r)
					return
				}
				apierr.Write(w, r, apierr.Unauthenticated())
				return
			}

			var p *Principal
			if keys.LooksLikeKey(raw) {
				if !opts.AllowAPIKeys {
					apierr.Write(w, r, apierr.Unauthenticated())
					return
				}
				m, err := keyValidator.Validate(r.Context(), raw)
				if err != nil {
					apierr.Write(w, r, apierr.Unauthenticated())
					return
				}
				acc, err := accounts.GetByID(r.Context(), m.AccountID)
				if err != nil {
					logger.FromContext(r.Context(), log).Warn("account lookup for api key failed",
						"key_id", m.KeyID, "error", err)
					apierr.Write(w, r, apierr.Unauthenticated())
					return
				}
				p = &Principal{AccountID: acc.ID, Plan: acc.Plan, KeyID: m.KeyID, Method: MethodAPIKey}
			} else {
				acc, err := sessions.Authenticate(r.Context(), raw)
				if err != nil {
					apierr.Write(w, r, apierr.Unauthenticated())
					return
				}
				p = &Principal{AccountID: acc.ID, Plan: acc.Plan, Method: MethodSession}
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// PrincipalFromCtx returns the authenticated caller or nil.
func PrincipalFromCtx(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxPrincipalKey).(*Principal)
	return p
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey, p)
}

func extractCredential(r *http.Request, opts AuthOptions) string {
	if raw := extractBearer(r); raw != "" {
		return raw
	}
	if opts.AllowAPIKeys {
		if raw := strings.TrimSpace(r.Header.Get("X-API-Key")); raw != "" {
			return raw
		}
	}
	if opts.AllowQuery {
		q := r.URL.Query()
		if raw := strings.TrimSpace(q.Get("key")); raw != "" && opts.AllowAPIKeys {
			return raw
		}
		if raw := strings.TrimSpace(q.Get("token")); raw != "" {
			return raw
		}
	}
	return ""
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
