package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/edgeog/backend/internal/apikeys"
	"github.com/edgeog/backend/internal/kv"
	"github.com/edgeog/backend/internal/ledger"
	"github.com/edgeog/backend/internal/logger"
	"github.com/edgeog/backend/internal/middleware"
	"github.com/edgeog/backend/internal/models"
	"github.com/edgeog/backend/internal/repository"
	"github.com/edgeog/backend/internal/validation"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type inlineScheduler struct{}

func (inlineScheduler) Go(ctx context.Context, _ string, fn func(context.Context) error) { _ = fn(ctx) }

type env struct {
	mux   *http.ServeMux
	acct  *models.Account
	keys  *apikeys.Service
	quota *ledger.QuotaLedger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := kv.NewMemoryStore()
	accounts := repository.NewAccountRepo(store)
	acct := &models.Account{EmailHash: "hash"}
	if err := accounts.Create(context.Background(), acct); err != nil {
		t.Fatal(err)
	}
	e := &env{
		mux:   http.NewServeMux(),
		acct:  acct,
		keys:  apikeys.NewService(repository.NewAPIKeyRepo(store), []byte("pepper-0123456789"), inlineScheduler{}, logger.Discard()),
		quota: ledger.NewQuotaLedger(store, ledger.NewPlanTable(map[string]int64{"free": 100, "pro": 1000})),
	}
	h := NewHandler(accounts, e.keys, e.quota, validation.MustNew(), logger.Discard())
	e.mux.HandleFunc("GET /api/account", h.GetAccount)
	e.mux.HandleFunc("GET /api/keys", h.ListKeys)
	e.mux.HandleFunc("POST /api/keys", h.CreateKey)
	e.mux.HandleFunc("DELETE /api/keys/{id}", h.RevokeKey)
	e.mux.HandleFunc("GET /api/usage", h.GetUsage)
	return e
}

func (e *env) do(t *testing.T, method, path, body string, signedIn bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if signedIn {
		p := &middleware.Principal{AccountID: e.acct.ID, Plan: e.acct.Plan, Method: middleware.MethodSession}
		req = req.WithContext(middleware.WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body, err)
	}
	return v
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRequiresPrincipal(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{"/api/account", "/api/keys", "/api/usage"} {
		if rec := e.do(t, http.MethodGet, path, "", false); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, rec.Code)
		}
	}
}

func TestGetAccount(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/account", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[AccountResponse](t, rec)
	if got.ID != e.acct.ID || got.Plan != models.PlanFree || got.MonthlyLimit != 100 {
		t.Errorf("got %+v", got)
	}
}

func TestKeyLifecycle(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/keys", `{"name":"ci"}`, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	created := decode[CreateKeyResponse](t, rec)
	if created.Name != "ci" || !strings.HasPrefix(created.Key, "eog_") {
		t.Fatalf("created = %+v", created)
	}
	if _, err := e.keys.Validate(context.Background(), created.Key); err != nil {
		t.Fatalf("new key does not validate: %v", err)
	}

	list := decode[[]apikeys.Summary](t, e.do(t, http.MethodGet, "/api/keys", "", true))
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("list = %+v", list)
	}

	if rec := e.do(t, http.MethodDelete, "/api/keys/"+created.ID, "", true); rec.Code != http.StatusNoContent {
		t.Fatalf("revoke status = %d", rec.Code)
	}
	list = decode[[]apikeys.Summary](t, e.do(t, http.MethodGet, "/api/keys", "", true))
	if len(list) != 0 {
		t.Errorf("revoked key still listed: %+v", list)
	}
	if _, err := e.keys.Validate(context.Background(), created.Key); err == nil {
		t.Error("revoked key still validates")
	}
}

func TestRevokeKey_ForeignOrUnknown(t *testing.T) {
	e := newEnv(t)
	other, err := e.keys.Create(context.Background(), uuid.New(), "theirs")
	if err != nil {
		t.Fatal(err)
	}
	if rec := e.do(t, http.MethodDelete, "/api/keys/"+other.Key.ID, "", true); rec.Code != http.StatusNotFound {
		t.Errorf("foreign key: status = %d, want 404", rec.Code)
	}
	if rec := e.do(t, http.MethodDelete, "/api/keys/nope", "", true); rec.Code != http.StatusNotFound {
		t.Errorf("unknown key: status = %d, want 404", rec.Code)
	}
}

func TestCreateKey_Validation(t *testing.T) {
	e := newEnv(t)
	long := strings.Repeat("x", 65)
	if rec := e.do(t, http.MethodPost, "/api/keys", `{"name":"`+long+`"}`, true); rec.Code != http.StatusBadRequest {
		t.Errorf("long name: status = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/keys", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	req = req.WithContext(middleware.WithPrincipal(req.Context(), &middleware.Principal{AccountID: e.acct.ID}))
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("text/plain: status = %d", rec.Code)
	}
}

func TestGetUsage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created, err := e.keys.Create(ctx, e.acct.ID, "site")
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if _, err := e.quota.Increment(ctx, created.Key.ID); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.quota.Increment(ctx, "session:"+e.acct.ID.String()); err != nil {
		t.Fatal(err)
	}

	rec := e.do(t, http.MethodGet, "/api/usage", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[UsageResponse](t, rec)
	if got.Limit != 100 || len(got.Meters) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got.Meters[0].Name != "session" || got.Meters[0].Used != 1 {
		t.Errorf("session meter = %+v", got.Meters[0])
	}
	if got.Meters[1].MeterID != created.Key.ID || got.Meters[1].Used != 3 || got.Meters[1].Remaining != 97 {
		t.Errorf("key meter = %+v", got.Meters[1])
	}
}
