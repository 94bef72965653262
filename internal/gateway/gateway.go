// Package gateway serves GET /api/image: it composes authentication,
// anonymous rate limiting, cache identity, quota, rendering and usage
// recording for each request.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/edgeog/backend/internal/apierr"
	"github.com/edgeog/backend/internal/cacheid"
	"github.com/edgeog/backend/internal/config"
	"github.com/edgeog/backend/internal/ledger"
	"github.com/edgeog/backend/internal/logger"
	"github.com/edgeog/backend/internal/metrics"
	"github.com/edgeog/backend/internal/middleware"
	"github.com/edgeog/backend/internal/models"
	"github.com/edgeog/backend/internal/ratelimit"
	"github.com/edgeog/backend/internal/render"
)

// Quota is the quota ledger as seen by the gateway.
type Quota interface {
	Check(ctx context.Context, meterID string, plan models.Plan) (ledger.QuotaStatus, error)
	Increment(ctx context.Context, meterID string) (int64, error)
	CheckAndIncrement(ctx context.Context, meterID string, plan models.Plan) (ledger.QuotaStatus, error)
}

// Overage records paid-plan requests beyond the monthly limit.
type Overage interface {
	OnExceeded(ctx context.Context, accountID uuid.UUID) error
}

// Limiter throttles anonymous callers per IP.
type Limiter interface {
	Allow(ctx context.Context, ip string) ratelimit.Decision
}

// Scheduler runs side effects after the response.
type Scheduler interface {
	Go(ctx context.Context, name string, fn func(context.Context) error)
}

// Decision outcomes, used as the metrics label.
const (
	OutcomeServed           = "served"
	OutcomeServedFallback   = "served_fallback"
	OutcomeServedOverage    = "served_overage"
	OutcomeNotModified      = "not_modified"
	OutcomeUnauthenticated  = "unauthenticated"
	OutcomeRateLimited      = "rate_limited"
	OutcomeQuotaExceeded    = "quota_exceeded"
	OutcomeQuotaUnavailable = "quota_unavailable"
	OutcomeRenderFailed     = "render_failed"
)

type Config struct {
	// IncrementMode is config.IncrementAfterRender or config.IncrementBeforeRender.
	IncrementMode     string
	AllowAnonymous    bool
	TrustProxyHeaders bool
	// DefaultVersion is the deployment-wide cache version.
	DefaultVersion string
	Cache          cacheid.HeaderPolicy
}

type Gateway struct {
	cfg      Config
	quota    Quota
	overage  Overage
	renderer render.Renderer
	anon     Limiter
	bg       Scheduler
	metrics  *metrics.Collector
	log      *slog.Logger
}

type Deps struct {
	Quota    Quota
	Overage  Overage
	Renderer render.Renderer
	// Anonymous may be nil when anonymous access is disabled.
	Anonymous  Limiter
	Background Scheduler
	Metrics    *metrics.Collector
	Logger     *slog.Logger
}

func New(cfg Config, d Deps) *Gateway {
	if cfg.IncrementMode == "" {
		cfg.IncrementMode = config.IncrementAfterRender
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		cfg:      cfg,
		quota:    d.Quota,
		overage:  d.Overage,
		renderer: d.Renderer,
		anon:     d.Anonymous,
		bg:       d.Background,
		metrics:  d.Metrics,
		log:      log.With("component", "gateway"),
	}
}

// quotaResult is what the quota step decided for a metered caller.
type quotaResult struct {
	status    ledger.QuotaStatus
	overLimit bool
	// counted is true when the request was already recorded before render.
	counted bool
}

// ServeHTTP handles GET /api/image. It expects middleware.Authenticate to
// have run with Optional set, so anonymous callers arrive without a
// principal.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx, g.log)
	p := middleware.PrincipalFromCtx(ctx)

	if p == nil {
		if !g.cfg.AllowAnonymous || g.anon == nil {
			g.refuse(w, r, OutcomeUnauthenticated, apierr.Unauthenticated())
			return
		}
		if d := g.anon.Allow(ctx, ratelimit.ClientIP(r, g.cfg.TrustProxyHeaders)); !d.Allowed {
			g.refuse(w, r, OutcomeRateLimited, apierr.RateLimited(d.RetryAfter))
			return
		}
	}

	id := cacheid.Resolve(cacheid.FromQuery(r.URL.Query()), g.cfg.DefaultVersion, r.Header.Get(cacheid.ObservedVersionHeader))
	if id.NotModified(r) {
		id.Apply(w.Header(), g.cfg.Cache)
		w.WriteHeader(http.StatusNotModified)
		g.metrics.RecordDecision(OutcomeNotModified)
		return
	}

	var q quotaResult
	if p != nil {
		var err error
		q, err = g.checkQuota(ctx, p)
		if err != nil {
			log.Error("quota check failed", "meter_id", logger.Truncate(p.MeterID()), "error", err)
			g.metrics.RecordStoreError("quota")
			g.refuse(w, r, OutcomeQuotaUnavailable, apierr.Unavailable("quota temporarily unavailable"))
			return
		}
		if q.overLimit && !p.Plan.Paid() {
			g.refuse(w, r, OutcomeQuotaExceeded, apierr.QuotaExceeded(q.status.Limit, q.status.Usage))
			return
		}
	}

	img, fellBack, err := render.WithFallback(ctx, g.renderer, id.Params, g.log)
	if err != nil {
		log.Error("render failed", "error", err)
		g.refuse(w, r, OutcomeRenderFailed, apierr.RenderFailed())
		return
	}

	outcome := OutcomeServed
	if p != nil {
		outcome = g.recordUsage(ctx, p, q, outcome)
		setQuotaHeaders(w.Header(), q)
	}

	if fellBack {
		// The fallback body differs from what the ETag names.
		w.Header().Set("Cache-Control", "no-store")
		outcome = OutcomeServedFallback
	} else {
		id.Apply(w.Header(), g.cfg.Cache)
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Body)
	g.metrics.RecordDecision(outcome)
}

func (g *Gateway) checkQuota(ctx context.Context, p *middleware.Principal) (quotaResult, error) {
	if g.cfg.IncrementMode == config.IncrementBeforeRender {
		st, err := g.quota.CheckAndIncrement(ctx, p.MeterID(), p.Plan)
		if err != nil {
			return quotaResult{}, err
		}
		return quotaResult{status: st, overLimit: !st.Allowed, counted: st.Allowed}, nil
	}
	st, err := g.quota.Check(ctx, p.MeterID(), p.Plan)
	if err != nil {
		return quotaResult{}, err
	}
	return quotaResult{status: st, overLimit: !st.Allowed}, nil
}

// recordUsage schedules the post-render bookkeeping: the quota increment for
// requests under the limit, or an overage record for paid requests over it.
func (g *Gateway) recordUsage(ctx context.Context, p *middleware.Principal, q quotaResult, outcome string) string {
	if q.overLimit {
		accountID := p.AccountID
		g.bg.Go(ctx, "overage", func(ctx context.Context) error {
			return g.overage.OnExceeded(ctx, accountID)
		})
		return OutcomeServedOverage
	}
	if !q.counted {
		meterID := p.MeterID()
		g.bg.Go(ctx, "quota_increment", func(ctx context.Context) error {
			_, err := g.quota.Increment(ctx, meterID)
			return err
		})
	}
	return outcome
}

func setQuotaHeaders(h http.Header, q quotaResult) {
	h.Set("X-Quota-Limit", strconv.FormatInt(q.status.Limit, 10))
	used := q.status.Usage
	if !q.counted && !q.overLimit {
		used++
	}
	remaining := q.status.Limit - used
	if remaining < 0 {
		remaining = 0
	}
	h.Set("X-Quota-Remaining", strconv.FormatInt(remaining, 10))
}

func (g *Gateway) refuse(w http.ResponseWriter, r *http.Request, outcome string, err *apierr.Error) {
	g.metrics.RecordDecision(outcome)
	apierr.Write(w, r, err)
}
