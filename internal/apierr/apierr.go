// Package apierr maps gateway refusals to HTTP responses. Every refusal
// carries a machine-readable reason and the request's correlation id.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/edgeog/backend/internal/logger"
)

// Reasons. Authentication failures always use ReasonInvalidCredentials so
// callers cannot tell a missing key from a revoked one or a bad signature.
const (
	ReasonInvalidCredentials   = "invalid_credentials"
	ReasonForbidden            = "forbidden"
	ReasonQuotaExceeded        = "quota_exceeded"
	ReasonRateLimited          = "rate_limited"
	ReasonInvalidRequest       = "invalid_request"
	ReasonUnsupportedMediaType = "unsupported_media_type"
	ReasonNotFound             = "not_found"
	ReasonUnavailable          = "service_unavailable"
	ReasonRenderFailed         = "render_failed"
	ReasonInternal             = "internal_error"
)

// Error is a reason-coded refusal.
type Error struct {
	Status     int
	Reason     string
	Message    string
	RetryAfter time.Duration
	// Limit and Usage are disclosed only for quota refusals.
	Limit *int64
	Usage *int64
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Reason, e.Message)
}

func Unauthenticated() *Error {
	return &Error{Status: http.StatusUnauthorized, Reason: ReasonInvalidCredentials, Message: "invalid or missing credentials"}
}

func Forbidden(msg string) *Error {
	return &Error{Status: http.StatusForbidden, Reason: ReasonForbidden, Message: msg}
}

func QuotaExceeded(limit, usage int64) *Error {
	return &Error{
		Status:  http.StatusTooManyRequests,
		Reason:  ReasonQuotaExceeded,
		Message: "monthly quota exceeded",
		Limit:   &limit,
		Usage:   &usage,
	}
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Status: http.StatusTooManyRequests, Reason: ReasonRateLimited, Message: "too many requests", RetryAfter: retryAfter}
}

func BadRequest(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Reason: ReasonInvalidRequest, Message: msg}
}

func UnsupportedMediaType() *Error {
	return &Error{Status: http.StatusUnsupportedMediaType, Reason: ReasonUnsupportedMediaType, Message: "content type must be application/json"}
}

func NotFound(msg string) *Error {
	return &Error{Status: http.StatusNotFound, Reason: ReasonNotFound, Message: msg}
}

func Unavailable(msg string) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Reason: ReasonUnavailable, Message: msg}
}

func RenderFailed() *Error {
	return &Error{Status: http.StatusBadGateway, Reason: ReasonRenderFailed, Message: "image rendering failed"}
}

func Internal() *Error {
	return &Error{Status: http.StatusInternalServerError, Reason: ReasonInternal, Message: "internal error"}
}

type body struct {
	Error         string `json:"error"`
	Reason        string `json:"reason"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Limit         *int64 `json:"limit,omitempty"`
	Usage         *int64 `json:"usage,omitempty"`
}

// Write renders err as a JSON refusal. Errors that are not *Error become 500.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = Internal()
	}
	if e.RetryAfter > 0 {
		secs := int64(math.Ceil(e.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(body{
		Error:         e.Message,
		Reason:        e.Reason,
		CorrelationID: logger.CorrelationID(r.Context()),
		Limit:         e.Limit,
		Usage:         e.Usage,
	})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
