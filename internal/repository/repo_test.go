package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/edgeog/backend/internal/kv"
	"github.com/edgeog/backend/internal/models"
)

func TestAccountRepo_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepo(kv.NewMemoryStore())

	a := &models.Account{EmailHash: "abc123"}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == uuid.Nil || a.Plan != models.PlanFree || a.CreatedAt.IsZero() {
		t.Fatalf("defaults not applied: %+v", a)
	}

	got, err := repo.GetByEmailHash(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetByEmailHash: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("got account %s, want %s", got.ID, a.ID)
	}

	if _, err := repo.GetByEmailHash(ctx, "nope"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountRepo_UpdatePlanAndLogin(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepo(kv.NewMemoryStore())
	a := &models.Account{EmailHash: "h"}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatal(err)
	}

	if err := repo.UpdatePlan(ctx, a.ID, models.PlanPro); err != nil {
		t.Fatalf("UpdatePlan: %v", err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.TouchLogin(ctx, a.ID, at); err != nil {
		t.Fatalf("TouchLogin: %v", err)
	}

	got, err := repo.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Plan != models.PlanPro {
		t.Errorf("plan = %s, want pro", got.Plan)
	}
	if got.LastLogin == nil || !got.LastLogin.Equal(at) {
		t.Errorf("last login = %v, want %v", got.LastLogin, at)
	}

	if err := repo.UpdatePlan(ctx, uuid.New(), models.PlanPro); err != ErrNotFound {
		t.Errorf("unknown account: expected ErrNotFound, got %v", err)
	}
}

func TestAPIKeyRepo_IndexAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewAPIKeyRepo(kv.NewMemoryStore())
	owner := uuid.New()

	for _, id := range []string{"k1", "k2"} {
		k := &models.APIKey{ID: id, AccountID: owner, Name: id}
		if err := repo.Save(ctx, k); err != nil {
			t.Fatal(err)
		}
		if err := repo.Index(ctx, k); err != nil {
			t.Fatal(err)
		}
	}
	other := &models.APIKey{ID: "k3", AccountID: uuid.New()}
	_ = repo.Save(ctx, other)
	_ = repo.Index(ctx, other)

	list, err := repo.ListByAccountID(ctx, owner)
	if err != nil {
		t.Fatalf("ListByAccountID: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(list))
	}

	if err := repo.Remove(ctx, list[0]); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	list, _ = repo.ListByAccountID(ctx, owner)
	if len(list) != 1 {
		t.Errorf("expected 1 key after remove, got %d", len(list))
	}
}

func TestAPIKeyRepo_LastUsedKeptApartFromRecord(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	repo := NewAPIKeyRepo(store)
	k := &models.APIKey{ID: "k1", AccountID: uuid.New()}
	if err := repo.Save(ctx, k); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	if err := repo.TouchLastUsed(ctx, "k1", at); err != nil {
		t.Fatal(err)
	}
	got, err := repo.GetByID(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(at) {
		t.Fatalf("LastUsedAt = %v, want %v", got.LastUsedAt, at)
	}

	// Saving a revoke keeps the separately stored last-used time.
	got.Revoked = true
	if err := repo.Save(ctx, got); err != nil {
		t.Fatal(err)
	}
	var rec models.APIKey
	if err := kv.GetJSON(ctx, store, "key:k1", &rec); err != nil {
		t.Fatal(err)
	}
	if rec.LastUsedAt != nil {
		t.Error("record carries last_used_at")
	}
	got, _ = repo.GetByID(ctx, "k1")
	if !got.Revoked || got.LastUsedAt == nil {
		t.Errorf("after revoke: %+v", got)
	}

	if err := repo.Remove(ctx, got); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "key:k1:last_used"); err != kv.ErrNotFound {
		t.Errorf("last-used entry survived Remove: %v", err)
	}
}
