// Package admin serves the operator channel under /admin. Every request
// must carry the shared admin secret.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/edgeog/backend/internal/apierr"
	"github.com/edgeog/backend/internal/ledger"
	"github.com/edgeog/backend/internal/logger"
	"github.com/edgeog/backend/internal/secure"
	"github.com/edgeog/backend/internal/validation"
)

// SecretHeader is accepted as an alternative to a Bearer token.
const SecretHeader = "X-Admin-Secret"

// RequireSecret rejects requests that do not present secret. It runs before
// any body parsing, so unauthenticated callers learn nothing about payload
// rules. An empty secret disables the channel.
func RequireSecret(secret string, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(SecretHeader)
			if presented == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					presented = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
				}
			}
			if secret == "" || presented == "" || !secure.EqualString(presented, secret) {
				logger.FromContext(r.Context(), log).Warn("admin request rejected", "path", r.URL.Path)
				apierr.Write(w, r, apierr.Unauthenticated())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type QuotaResetter interface {
	Reset(ctx context.Context, meterID string) error
}

type OverageReporter interface {
	ReportDaily(ctx context.Context, date time.Time) (*ledger.Report, error)
}

type QuotaResetRequest struct {
	KeyID string `json:"key_id"`
}

type OverageReportRequest struct {
	Date string `json:"date,omitempty"`
}

type Handler struct {
	quota     QuotaResetter
	overage   OverageReporter
	validator *validation.Validator
	log       *slog.Logger
}

func NewHandler(quota QuotaResetter, overage OverageReporter, v *validation.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{quota: quota, overage: overage, validator: v, log: log.With("component", "admin")}
}

// ResetQuota handles POST /admin/quota/reset.
func (h *Handler) ResetQuota(w http.ResponseWriter, r *http.Request) {
	var req QuotaResetRequest
	if err := h.validator.DecodeRequest(r, validation.AdminQuotaReset, &req); err != nil {
		apierr.Write(w, r, err)
		return
	}
	if err := h.quota.Reset(r.Context(), req.KeyID); err != nil {
		logger.FromContext(r.Context(), h.log).Error("quota reset failed", "key_id", req.KeyID, "error", err)
		apierr.Write(w, r, apierr.Unavailable("quota store unavailable"))
		return
	}
	logger.FromContext(r.Context(), h.log).Info("quota reset", "key_id", req.KeyID)
	apierr.WriteJSON(w, http.StatusOK, map[string]string{"status": "reset", "key_id": req.KeyID})
}

// OverageReport handles POST /admin/overage/report. Without a date it
// reports yesterday (UTC).
func (h *Handler) OverageReport(w http.ResponseWriter, r *http.Request) {
	var req OverageReportRequest
	if err := h.validator.DecodeRequest(r, validation.AdminOverageReport, &req); err != nil {
		apierr.Write(w, r, err)
		return
	}
	var date time.Time
	if req.Date != "" {
		d, err := time.Parse(time.DateOnly, req.Date)
		if err != nil {
			apierr.Write(w, r, apierr.BadRequest("date must be a valid YYYY-MM-DD"))
			return
		}
		date = d
	}
	rep, err := h.overage.ReportDaily(r.Context(), date)
	if err != nil {
		logger.FromContext(r.Context(), h.log).Error("overage report failed", "error", err)
		apierr.Write(w, r, apierr.Unavailable("overage store unavailable"))
		return
	}
	apierr.WriteJSON(w, http.StatusOK, rep)
}
