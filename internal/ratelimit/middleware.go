package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/edgeog/backend/internal/apierr"
)

// Middleware refuses requests over the limit with 429 and a Retry-After
// header.
func Middleware(l *Limiter, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Allow(r.Context(), ClientIP(r, trustProxy))
			if !d.Allowed {
				apierr.Write(w, r, apierr.RateLimited(d.RetryAfter))
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP resolves the caller's address. CF-Connecting-IP and
// X-Forwarded-For are client-settable, so they are only honoured when
// trustProxy is set; otherwise the connection's peer address is used.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
