package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/edgeog/backend/internal/apierr"
	"github.com/edgeog/backend/internal/logger"
	"github.com/edgeog/backend/internal/models"
	"github.com/edgeog/backend/internal/validation"
)

// Request/response structs use snake_case JSON.

type MagicLinkRequest struct {
	Email string `json:"email"`
}

type MagicLinkResponse struct {
	Status string `json:"status"`
}

// Authenticator is the slice of Service the HTTP layer needs. Tests stub it.
type Authenticator interface {
	RequestMagicLink(ctx context.Context, email string) error
	Verify(ctx context.Context, rawToken string) (*Session, error)
	Authenticate(ctx context.Context, sessionToken string) (*models.Account, error)
}

var _ Authenticator = (*Service)(nil)

type Handler struct {
	svc       Authenticator
	validator *validation.Validator
	log       *slog.Logger
}

func NewHandler(svc Authenticator, v *validation.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: v, log: log}
}

// MagicLink handles POST /auth/magic-link. The answer is 202 whether or not
// the address already had an account.
func (h *Handler) MagicLink(w http.ResponseWriter, r *http.Request) {
	var req MagicLinkRequest
	if err := h.validator.DecodeRequest(r, validation.AuthMagicLink, &req); err != nil {
		apierr.Write(w, r, err)
		return
	}
	if err := h.svc.RequestMagicLink(r.Context(), strings.TrimSpace(req.Email)); err != nil {
		logger.FromContext(r.Context(), h.log).Error("magic link request failed", "error", err)
		apierr.Write(w, r, apierr.Unavailable("could not process sign-in request"))
		return
	}
	apierr.WriteJSON(w, http.StatusAccepted, MagicLinkResponse{Status: "sent"})
}

// Verify handles GET /auth/verify?token=...
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		apierr.Write(w, r, apierr.Unauthenticated())
		return
	}
	sess, err := h.svc.Verify(r.Context(), raw)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			apierr.Write(w, r, apierr.Unauthenticated())
			return
		}
		logger.FromContext(r.Context(), h.log).Error("verify magic link", "error", err)
		apierr.Write(w, r, apierr.Unavailable("could not complete sign-in"))
		return
	}
	apierr.WriteJSON(w, http.StatusOK, sess)
}
