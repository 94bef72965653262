package router

import (
	"net/http"

	"github.com/edgeog/backend/internal/admin"
	"github.com/edgeog/backend/internal/apierr"
	"github.com/edgeog/backend/internal/auth"
	"github.com/edgeog/backend/internal/billing"
	"github.com/edgeog/backend/internal/dashboard"
)

type Middleware = func(http.Handler) http.Handler

// Routes is everything the router mounts. Nil handlers leave their routes
// unmounted and nil middlewares pass requests through.
type Routes struct {
	Auth      *auth.Handler
	Dashboard *dashboard.Handler
	Admin     *admin.Handler
	Billing   *billing.Handler
	// Image serves GET /api/image.
	Image   http.Handler
	Metrics http.Handler

	// ImageAuth accepts API keys, query credentials and anonymous callers.
	ImageAuth Middleware
	// SessionAuth accepts session tokens only.
	SessionAuth    Middleware
	AdminAuth      Middleware
	MagicLinkLimit Middleware
}

// New returns the HTTP surface:
//
//	POST   /auth/magic-link        (rate limited)
//	GET    /auth/verify
//	GET    /api/image              (key, session or anonymous)
//	GET    /api/account            (session)
//	GET    /api/keys               (session)
//	POST   /api/keys               (session)
//	DELETE /api/keys/{id}          (session)
//	GET    /api/usage              (session)
//	POST   /webhooks/billing       (signed)
//	POST   /admin/quota/reset      (admin secret)
//	POST   /admin/overage/report   (admin secret)
//	GET    /metrics
//	GET    /healthz
func New(rt Routes) http.Handler {
	mux := http.NewServeMux()

	if rt.Auth != nil {
		mux.Handle("POST /auth/magic-link", wrap(http.HandlerFunc(rt.Auth.MagicLink), rt.MagicLinkLimit))
		mux.HandleFunc("GET /auth/verify", rt.Auth.Verify)
	}

	if rt.Image != nil {
		mux.Handle("GET /api/image", wrap(rt.Image, rt.ImageAuth))
	}

	if d := rt.Dashboard; d != nil {
		session := func(h http.HandlerFunc) http.Handler { return wrap(h, rt.SessionAuth) }
		mux.Handle("GET /api/account", session(d.GetAccount))
		mux.Handle("GET /api/keys", session(d.ListKeys))
		mux.Handle("POST /api/keys", session(d.CreateKey))
		mux.Handle("DELETE /api/keys/{id}", session(d.RevokeKey))
		mux.Handle("GET /api/usage", session(d.GetUsage))
	}

	if rt.Billing != nil {
		mux.HandleFunc("POST /webhooks/billing", rt.Billing.Webhook)
	}

	if a := rt.Admin; a != nil {
		mux.Handle("POST /admin/quota/reset", wrap(http.HandlerFunc(a.ResetQuota), rt.AdminAuth))
		mux.Handle("POST /admin/overage/report", wrap(http.HandlerFunc(a.OverageReport), rt.AdminAuth))
	}

	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		apierr.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

func wrap(h http.Handler, mw Middleware) http.Handler {
	if mw == nil {
		return h
	}
	return mw(h)
}

