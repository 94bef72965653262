package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edgeog/backend/internal/kv"
	"github.com/edgeog/backend/internal/logger"
	"github.com/edgeog/backend/internal/models"
	"github.com/edgeog/backend/internal/repository"
	"github.com/edgeog/backend/internal/validation"
)

const testSecret = "whsec_0123456789abcdef"

func setup(t *testing.T) (*Handler, *Verifier, *repository.AccountRepo, *models.Account) {
	t.Helper()
	accounts := repository.NewAccountRepo(kv.NewMemoryStore())
	acct := &models.Account{EmailHash: "h"}
	if err := accounts.Create(context.Background(), acct); err != nil {
		t.Fatal(err)
	}
	v := NewVerifier(testSecret, 0)
	return NewHandler(v, accounts, validation.MustNew(), logger.Discard()), v, accounts, acct
}

func post(h *Handler, body, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	return rec
}

func checkoutEvent(accountID, plan string) string {
	return `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"client_reference_id":"` +
		accountID + `","metadata":{"plan":"` + plan + `"}}}}`
}

func planOf(t *testing.T, accounts *repository.AccountRepo, acct *models.Account) models.Plan {
	t.Helper()
	got, err := accounts.GetByID(context.Background(), acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	return got.Plan
}

func TestWebhook_CheckoutUpgradesPlan(t *testing.T) {
	h, v, accounts, acct := setup(t)
	body := checkoutEvent(acct.ID.String(), "pro")

	rec := post(h, body, v.Sign([]byte(body), time.Now()))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if p := planOf(t, accounts, acct); p != models.PlanPro {
		t.Errorf("plan = %q, want pro", p)
	}
}

func TestWebhook_TamperedBodyRejected(t *testing.T) {
	h, v, accounts, acct := setup(t)
	signed := checkoutEvent(acct.ID.String(), "starter")
	sig := v.Sign([]byte(signed), time.Now())
	tampered := checkoutEvent(acct.ID.String(), "pro")

	rec := post(h, tampered, sig)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"invalid_credentials"`) {
		t.Errorf("body = %s", rec.Body)
	}
	if p := planOf(t, accounts, acct); p != models.PlanFree {
		t.Errorf("plan changed to %q", p)
	}
}

func TestWebhook_MissingOrForeignSignature(t *testing.T) {
	h, _, accounts, acct := setup(t)
	body := checkoutEvent(acct.ID.String(), "pro")

	if rec := post(h, body, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no signature: status = %d", rec.Code)
	}
	other := NewVerifier("some-other-secret-value", 0)
	if rec := post(h, body, other.Sign([]byte(body), time.Now())); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d", rec.Code)
	}
	if p := planOf(t, accounts, acct); p != models.PlanFree {
		t.Errorf("plan changed to %q", p)
	}
}

func TestWebhook_SubscriptionDeletedDowngrades(t *testing.T) {
	h, v, accounts, acct := setup(t)
	if err := accounts.UpdatePlan(context.Background(), acct.ID, models.PlanStarter); err != nil {
		t.Fatal(err)
	}
	body := `{"type":"customer.subscription.deleted","data":{"object":{"metadata":{"account_id":"` + acct.ID.String() + `"}}}}`

	rec := post(h, body, v.Sign([]byte(body), time.Now()))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if p := planOf(t, accounts, acct); p != models.PlanFree {
		t.Errorf("plan = %q, want free", p)
	}
}

func TestWebhook_UnknownEventIgnored(t *testing.T) {
	h, v, _, _ := setup(t)
	body := `{"type":"invoice.paid","data":{"object":{}}}`
	rec := post(h, body, v.Sign([]byte(body), time.Now()))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ignored") {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestWebhook_InvalidPayload(t *testing.T) {
	h, v, _, acct := setup(t)
	for name, body := range map[string]string{
		"schema":  `{"type":"checkout.session.completed"}`,
		"plan":    checkoutEvent(acct.ID.String(), "platinum"),
		"account": checkoutEvent("not-a-uuid", "pro"),
	} {
		t.Run(name, func(t *testing.T) {
			rec := post(h, body, v.Sign([]byte(body), time.Now()))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestVerifier_Tolerance(t *testing.T) {
	body := []byte(`{}`)
	signedAt := time.Unix(1_700_000_000, 0)

	v := NewVerifier(testSecret, 0)
	v.SetClock(func() time.Time { return signedAt.Add(4 * time.Minute) })
	if err := v.Verify(v.Sign(body, signedAt), body); err != nil {
		t.Errorf("within tolerance: %v", err)
	}
	v.SetClock(func() time.Time { return signedAt.Add(6 * time.Minute) })
	if err := v.Verify(v.Sign(body, signedAt), body); err != ErrStaleTimestamp {
		t.Errorf("stale: err = %v", err)
	}

	disabled := NewVerifier(testSecret, -1)
	disabled.SetClock(func() time.Time { return signedAt.Add(24 * time.Hour) })
	if err := disabled.Verify(disabled.Sign(body, signedAt), body); err != nil {
		t.Errorf("disabled tolerance: %v", err)
	}
}

func TestVerifier_AcceptsAnyMatchingV1(t *testing.T) {
	v := NewVerifier(testSecret, -1)
	body := []byte(`{"a":1}`)
	good := v.Sign(body, time.Unix(100, 0))
	header := "t=100,v1=deadbeef," + good[strings.Index(good, "v1="):]
	if err := v.Verify(header, body); err != nil {
		t.Errorf("err = %v", err)
	}
	if err := v.Verify("t=abc,v1=00", body); err != ErrBadSignature {
		t.Errorf("bad timestamp: err = %v", err)
	}
}
