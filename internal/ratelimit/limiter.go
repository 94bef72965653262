// Package ratelimit implements a per-IP sliding-window limiter backed by the
// KV store. Store failures let requests through.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/edgeog/backend/internal/kv"
	"github.com/edgeog/backend/internal/logger"
	"github.com/edgeog/backend/internal/metrics"
)

const (
	DefaultWindow = 5 * time.Minute
	DefaultMax    = 5
)

// Scopes in use. The scope is the middle segment of the stored key.
const (
	ScopeMagicLink = "magic-link"
	ScopeImage     = "image"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter allows at most Max requests per IP in any trailing Window. Each
// IP's request timestamps (unix milliseconds) live at
// ratelimit:{scope}:{ip} with a TTL of twice the window.
type Limiter struct {
	store   kv.Store
	scope   string
	window  time.Duration
	max     int
	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Collector
}

type Option func(*Limiter)

func WithWindow(d time.Duration) Option { return func(l *Limiter) { l.window = d } }
func WithMax(n int) Option { return func(l *Limiter) { l.max = n } }
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}
func WithMetrics(m *metrics.Collector) Option { return func(l *Limiter) { l.metrics = m } }

func New(store kv.Store, scope string, log *slog.Logger, opts ...Option) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	l := &Limiter{
		store:  store,
		scope:  scope,
		window: DefaultWindow,
		max:    DefaultMax,
		now:    time.Now,
		log:    log.With("component", "ratelimit", "scope", scope),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Window() time.Duration { return l.window }

func (l *Limiter) Scope() string { return l.scope }

// Allow records a request from ip if it fits in the window. Timestamps older
// than the window are pruned on each call. When the store cannot be read or
// written the request is allowed.
func (l *Limiter) Allow(ctx context.Context, ip string) Decision {
	key := kv.Key("ratelimit", l.scope, ip)
	now := l.now()
	cutoff := now.Add(-l.window).UnixMilli()

	var stamps []int64
	if err := kv.GetJSON(ctx, l.store, key, &stamps); err != nil && !errors.Is(err, kv.ErrNotFound) {
		l.failOpen(ctx, "read", err)
		return Decision{Allowed: true, Remaining: l.max - 1}
	}

	live := stamps[:0]
	for _, ts := range stamps {
		if ts > cutoff {
			live = append(live, ts)
		}
	}

	if len(live) >= l.max {
		// The oldest live request leaves the window first, but clients get
		// the full window as a fixed back-off.
		l.metrics.RecordRateLimitRefusal(l.scope)
		return Decision{Allowed: false, Remaining: 0, RetryAfter: l.window}
	}

	live = append(live, now.UnixMilli())
	if err := kv.PutJSON(ctx, l.store, key, live, kv.WithTTL(2*l.window)); err != nil {
		l.failOpen(ctx, "write", err)
	}
	return Decision{Allowed: true, Remaining: l.max - len(live)}
}

func (l *Limiter) failOpen(ctx context.Context, op string, err error) {
	logger.FromContext(ctx, l.log).Warn("rate limit store error, allowing request", "op", op, "error", err)
	l.metrics.RecordStoreError("ratelimit")
}
