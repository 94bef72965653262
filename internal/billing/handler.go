// Package billing receives payment-provider webhooks and applies plan
// changes to accounts.
package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/edgeog/backend/internal/apierr"
	"github.com/edgeog/backend/internal/logger"
	"github.com/edgeog/backend/internal/models"
	"github.com/edgeog/backend/internal/repository"
	"github.com/edgeog/backend/internal/validation"
)

const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// PlanUpdater is the account store as seen by the webhook.
type PlanUpdater interface {
	UpdatePlan(ctx context.Context, id uuid.UUID, plan models.Plan) error
}

type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object EventObject `json:"object"`
	} `json:"data"`
}

type EventObject struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// accountID reads the account from client_reference_id, falling back to
// metadata.account_id (subscriptions carry only metadata).
func (o EventObject) accountID() (uuid.UUID, error) {
	raw := o.ClientReferenceID
	if raw == "" {
		raw = o.Metadata["account_id"]
	}
	return uuid.Parse(raw)
}

type Handler struct {
	verifier  *Verifier
	accounts  PlanUpdater
	validator *validation.Validator
	log       *slog.Logger
}

func NewHandler(verifier *Verifier, accounts PlanUpdater, v *validation.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{verifier: verifier, accounts: accounts, validator: v, log: log.With("component", "billing")}
}

// Webhook handles POST /webhooks/billing. The signature is checked against
// the raw body before anything is parsed.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.log)

	raw, err := io.ReadAll(io.LimitReader(r.Body, validation.MaxBodyBytes+1))
	if err != nil || len(raw) > validation.MaxBodyBytes {
		apierr.Write(w, r, apierr.BadRequest("unreadable body"))
		return
	}
	if err := h.verifier.Verify(r.Header.Get(SignatureHeader), raw); err != nil {
		log.Warn("webhook signature rejected", "error", err)
		apierr.Write(w, r, apierr.Unauthenticated())
		return
	}

	var evt Event
	if err := h.validator.Decode(validation.BillingEvent, raw, &evt); err != nil {
		apierr.Write(w, r, apierr.BadRequest(err.Error()))
		return
	}

	var plan models.Plan
	switch evt.Type {
	case EventCheckoutCompleted:
		plan, err = models.ParsePlan(evt.Data.Object.Metadata["plan"])
		if err != nil {
			apierr.Write(w, r, apierr.BadRequest(err.Error()))
			return
		}
	case EventSubscriptionDeleted:
		plan = models.PlanFree
	default:
		apierr.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	accountID, err := evt.Data.Object.accountID()
	if err != nil {
		apierr.Write(w, r, apierr.BadRequest("event does not reference an account"))
		return
	}
	if err := h.accounts.UpdatePlan(r.Context(), accountID, plan); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Redelivery cannot fix this, so acknowledge it.
			log.Warn("webhook for unknown account", "event_id", evt.ID, "account_id", accountID)
			apierr.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		log.Error("apply plan change", "event_id", evt.ID, "error", err)
		apierr.Write(w, r, apierr.Unavailable("could not apply event"))
		return
	}
	log.Info("plan changed", "event_id", evt.ID, "type", evt.Type, "account_id", accountID, "plan", plan)
	apierr.WriteJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}
