package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edgeog/backend/internal/kv"
	"github.com/edgeog/backend/internal/models"
)

// AccountRepo persists accounts in the KV store:
//
//	account:{id}               -> models.Account (JSON)
//	account:email:{emailHash}  -> account id
type AccountRepo struct {
	store kv.Store
}

func NewAccountRepo(store kv.Store) *AccountRepo {
	return &AccountRepo{store: store}
}

func accountKey(id uuid.UUID) string { return kv.Key("account", id.String()) }
func emailIndexKey(emailHash string) string { return kv.Key("account", "email", emailHash) }

// Create writes the account and its email index. The index is written last
// so a lookup never resolves to a missing record.
func (r *AccountRepo) Create(ctx context.Context, a *models.Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Plan == "" {
		a.Plan = models.PlanFree
	}
	if err := kv.PutJSON(ctx, r.store, accountKey(a.ID), a); err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	if err := r.store.Put(ctx, emailIndexKey(a.EmailHash), []byte(a.ID.String())); err != nil {
		_ = r.store.Delete(ctx, accountKey(a.ID))
		return fmt.Errorf("put email index: %w", err)
	}
	return nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	if err := kv.GetJSON(ctx, r.store, accountKey(id), &a); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) GetByEmailHash(ctx context.Context, emailHash string) (*models.Account, error) {
	raw, err := r.store.Get(ctx, emailIndexKey(emailHash))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	id, err := uuid.ParseBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt email index: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *AccountRepo) Update(ctx context.Context, a *models.Account) error {
	return kv.PutJSON(ctx, r.store, accountKey(a.ID), a)
}

// UpdatePlan sets the account's plan. It returns ErrNotFound for unknown ids.
func (r *AccountRepo) UpdatePlan(ctx context.Context, id uuid.UUID, plan models.Plan) error {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	a.Plan = plan
	return r.Update(ctx, a)
}

func (r *AccountRepo) TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	at = at.UTC()
	a.LastLogin = &at
	return r.Update(ctx, a)
}
