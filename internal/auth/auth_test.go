package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/edgeog/backend/internal/kv"
	"github.com/edgeog/backend/internal/logger"
	"github.com/edgeog/backend/internal/repository"
	"github.com/edgeog/backend/internal/token"
	"github.com/edgeog/backend/internal/validation"
)

type captureMailer struct {
	email string
	link  string
}

func (m *captureMailer) SendMagicLink(_ context.Context, email, link string) error {
	m.email, m.link = email, link
	return nil
}

func newTestService(t *testing.T) (*Service, *captureMailer, *repository.AccountRepo) {
	t.Helper()
	accounts := repository.NewAccountRepo(kv.NewMemoryStore())
	mailer := &captureMailer{}
	svc := NewService(accounts, mailer, Config{
		TokenSecret: []byte("0123456789abcdef0123456789abcdef"),
		EmailPepper: []byte("pepper"),
		BaseURL:     "https://app.example/auth/verify",
	}, logger.Discard())
	return svc, mailer, accounts
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("bad link %q: %v", link, err)
	}
	return u.Query().Get("token")
}

func TestHashEmail(t *testing.T) {
	a := HashEmail([]byte("pepper"), "Ada@Example.com ")
	b := HashEmail([]byte("pepper"), "ada@example.com")
	if a != b {
		t.Error("hash must ignore case and surrounding whitespace")
	}
	if a == HashEmail([]byte("other"), "ada@example.com") {
		t.Error("hash must depend on the pepper")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	long := make([]byte, 100)
	if HashEmail(long, "x@y.z") == "" {
		t.Error("oversized pepper must still hash")
	}
}

func TestMagicLinkFlow(t *testing.T) {
	svc, mailer, accounts := newTestService(t)
	ctx := context.Background()

	if err := svc.RequestMagicLink(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	if !strings.HasPrefix(mailer.link, "https://app.example/auth/verify?token=") {
		t.Fatalf("unexpected link %q", mailer.link)
	}

	acc, err := accounts.GetByEmailHash(ctx, HashEmail([]byte("pepper"), "ada@example.com"))
	if err != nil {
		t.Fatalf("account not created: %v", err)
	}

	sess, err := svc.Verify(ctx, tokenFromLink(t, mailer.link))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sess.AccountID != acc.ID {
		t.Errorf("session for %s, want %s", sess.AccountID, acc.ID)
	}

	got, err := svc.Authenticate(ctx, sess.Token)
	if err != nil || got.ID != acc.ID {
		t.Fatalf("Authenticate: %v %+v", err, got)
	}
	reloaded, _ := accounts.GetByID(ctx, acc.ID)
	if reloaded.LastLogin == nil {
		t.Error("last login not recorded")
	}

	// A second request reuses the account.
	_ = svc.RequestMagicLink(ctx, "ADA@example.com")
	again, _ := accounts.GetByEmailHash(ctx, HashEmail([]byte("pepper"), "ada@example.com"))
	if again.ID != acc.ID {
		t.Error("second request created a new account")
	}
}

func TestTokenKindsDoNotCross(t *testing.T) {
	svc, mailer, _ := newTestService(t)
	ctx := context.Background()
	_ = svc.RequestMagicLink(ctx, "ada@example.com")
	link := tokenFromLink(t, mailer.link)

	if _, err := svc.Authenticate(ctx, link); err != ErrInvalidCredentials {
		t.Errorf("magic-link token accepted as session: %v", err)
	}
	sess, err := svc.Verify(ctx, link)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(ctx, sess.Token); err != ErrInvalidCredentials {
		t.Errorf("session token accepted as magic link: %v", err)
	}
}

func TestVerify_ExpiredLink(t *testing.T) {
	svc, mailer, _ := newTestService(t)
	_ = svc.RequestMagicLink(context.Background(), "ada@example.com")

	later := time.Now().Add(16 * time.Minute)
	svc.links = token.NewCodec(token.KindMagicLink, token.MagicLinkTTL,
		[]byte("0123456789abcdef0123456789abcdef"), token.WithClock(func() time.Time { return later }))
	if _, err := svc.Verify(context.Background(), tokenFromLink(t, mailer.link)); err != ErrInvalidCredentials {
		t.Errorf("expired link accepted: %v", err)
	}
}

func TestHandler_MagicLinkAndVerify(t *testing.T) {
	svc, mailer, _ := newTestService(t)
	h := NewHandler(svc, validation.MustNew(), logger.Discard())

	req := httptest.NewRequest(http.MethodPost, "/auth/magic-link", strings.NewReader(`{"email":"ada@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.MagicLink(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("magic-link status %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.Verify(rec, httptest.NewRequest(http.MethodGet, "/auth/verify?token="+url.QueryEscape(tokenFromLink(t, mailer.link)), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status %d: %s", rec.Code, rec.Body.String())
	}
	var sess Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil || sess.Token == "" {
		t.Fatalf("bad session body %s: %v", rec.Body.String(), err)
	}

	rec = httptest.NewRecorder()
	h.Verify(rec, httptest.NewRequest(http.MethodGet, "/auth/verify?token=garbage", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status %d", rec.Code)
	}
}

func TestHandler_MagicLinkRejectsBadInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := NewHandler(svc, validation.MustNew(), logger.Discard())

	req := httptest.NewRequest(http.MethodPost, "/auth/magic-link", strings.NewReader(`email=ada@example.com`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.MagicLink(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("form body: status %d, want 415", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/magic-link", strings.NewReader(`{"email":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.MagicLink(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid email: status %d, want 400", rec.Code)
	}
}
