// Package dashboard serves the signed-in account's own views: account,
// API keys and usage. Every route expects a session principal.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/edgeog/backend/internal/apierr"
	"github.com/edgeog/backend/internal/apikeys"
	"github.com/edgeog/backend/internal/keys"
	"github.com/edgeog/backend/internal/logger"
	"github.com/edgeog/backend/internal/middleware"
	"github.com/edgeog/backend/internal/models"
	"github.com/edgeog/backend/internal/repository"
	"github.com/edgeog/backend/internal/validation"
)

type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type KeyManager interface {
	Create(ctx context.Context, accountID uuid.UUID, name string) (*apikeys.Created, error)
	List(ctx context.Context, accountID uuid.UUID) ([]apikeys.Summary, error)
	Revoke(ctx context.Context, keyID string, accountID uuid.UUID) (bool, error)
}

type UsageReader interface {
	Usage(ctx context.Context, meterID string) (int64, error)
	LimitFor(plan models.Plan) int64
}

type Handler struct {
	accounts  AccountReader
	keys      KeyManager
	usage     UsageReader
	validator *validation.Validator
	log       *slog.Logger
	now       func() time.Time
}

func NewHandler(accounts AccountReader, km KeyManager, usage UsageReader, v *validation.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		accounts:  accounts,
		keys:      km,
		usage:     usage,
		validator: v,
		log:       log.With("component", "dashboard"),
		now:       time.Now,
	}
}

// principal returns the session caller, writing 401 when there is none.
func principal(w http.ResponseWriter, r *http.Request) (*middleware.Principal, bool) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		apierr.Write(w, r, apierr.Unauthenticated())
		return nil, false
	}
	return p, true
}

type AccountResponse struct {
	ID           uuid.UUID   `json:"id"`
	Plan         models.Plan `json:"plan"`
	MonthlyLimit int64       `json:"monthly_limit"`
	CreatedAt    time.Time   `json:"created_at"`
	LastLogin    *time.Time  `json:"last_login,omitempty"`
}

// GET /api/account
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	acc, err := h.accounts.GetByID(r.Context(), p.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierr.Write(w, r, apierr.NotFound("account not found"))
			return
		}
		logger.FromContext(r.Context(), h.log).Error("get account failed", "error", err)
		apierr.Write(w, r, apierr.Unavailable("account store unavailable"))
		return
	}
	apierr.WriteJSON(w, http.StatusOK, AccountResponse{
		ID:           acc.ID,
		Plan:         acc.Plan,
		MonthlyLimit: h.usage.LimitFor(acc.Plan),
		CreatedAt:    acc.CreatedAt,
		LastLogin:    acc.LastLogin,
	})
}

// GET /api/keys lists the account's active keys.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	list, err := h.keys.List(r.Context(), p.AccountID)
	if err != nil {
		logger.FromContext(r.Context(), h.log).Error("list api keys failed", "error", err)
		apierr.Write(w, r, apierr.Unavailable("key store unavailable"))
		return
	}
	apierr.WriteJSON(w, http.StatusOK, apikeys.Active(list))
}

type CreateKeyRequest struct {
	Name string `json:"name"`
}

type CreateKeyResponse struct {
	apikeys.Summary
	// Key is the full credential. It is shown once.
	Key string `json:"key"`
}

// POST /api/keys
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req CreateKeyRequest
	if err := h.validator.DecodeRequest(r, validation.APIKeyCreate, &req); err != nil {
		apierr.Write(w, r, err)
		return
	}
	created, err := h.keys.Create(r.Context(), p.AccountID, req.Name)
	if err != nil {
		logger.FromContext(r.Context(), h.log).Error("create api key failed", "error", err)
		apierr.Write(w, r, apierr.Unavailable("could not create key"))
		return
	}
	k := created.Key
	apierr.WriteJSON(w, http.StatusCreated, CreateKeyResponse{
		Summary: apikeys.Summary{
			ID:        k.ID,
			Name:      k.Name,
			Prefix:    keys.DisplayPrefix(k.ID),
			CreatedAt: k.CreatedAt,
		},
		Key: created.FullKey,
	})
}

// DELETE /api/keys/{id}
func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	found, err := h.keys.Revoke(r.Context(), r.PathValue("id"), p.AccountID)
	if err != nil {
		logger.FromContext(r.Context(), h.log).Error("revoke api key failed", "error", err)
		apierr.Write(w, r, apierr.Unavailable("key store unavailable"))
		return
	}
	if !found {
		apierr.Write(w, r, apierr.NotFound("key not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type MeterUsage struct {
	MeterID   string `json:"meter_id"`
	Name      string `json:"name"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
}

type UsageResponse struct {
	Period string       `json:"period"`
	Plan   models.Plan  `json:"plan"`
	Limit  int64        `json:"limit"`
	Meters []MeterUsage `json:"meters"`
}

// GET /api/usage reports this month's count for each active key and for the
// account's own session meter. Each meter has the plan's full limit.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	list, err := h.keys.List(r.Context(), p.AccountID)
	if err != nil {
		logger.FromContext(r.Context(), h.log).Error("list api keys failed", "error", err)
		apierr.Write(w, r, apierr.Unavailable("key store unavailable"))
		return
	}
	limit := h.usage.LimitFor(p.Plan)
	resp := UsageResponse{
		Period: h.now().UTC().Format("2006-01"),
		Plan:   p.Plan,
		Limit:  limit,
		Meters: []MeterUsage{},
	}

	meters := []MeterUsage{{MeterID: middleware.SessionMeterID(p.AccountID), Name: "session"}}
	for _, k := range apikeys.Active(list) {
		meters = append(meters, MeterUsage{MeterID: k.ID, Name: k.Name})
	}
	for _, m := range meters {
		used, err := h.usage.Usage(r.Context(), m.MeterID)
		if err != nil {
			logger.FromContext(r.Context(), h.log).Error("read usage failed", "meter_id", m.MeterID, "error", err)
			apierr.Write(w, r, apierr.Unavailable("quota store unavailable"))
			return
		}
		m.Used = used
		m.Remaining = max(limit-used, 0)
		resp.Meters = append(resp.Meters, m)
	}
	apierr.WriteJSON(w, http.StatusOK, resp)
}
