package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edgeog/backend/internal/kv"
	"github.com/edgeog/backend/internal/models"
)

// APIKeyRepo persists API key records in the KV store:
//
//	key:{keyId}                 -> models.APIKey (JSON)
//	key:{keyId}:last_used       -> RFC 3339 time of the last successful use
//	apikeys:{accountId}:{keyId} -> key id (per-account index)
//
// The last-used time lives apart from the record so that the per-request
// update never rewrites the revoked flag.
type APIKeyRepo struct {
	store kv.Store
}

func NewAPIKeyRepo(store kv.Store) *APIKeyRepo {
	return &APIKeyRepo{store: store}
}

func apiKeyKey(id string) string { return kv.Key("key", id) }
func lastUsedKey(id string) string { return kv.Key("key", id, "last_used") }

func accountIndexPrefix(accountID uuid.UUID) string {
	return kv.Key("apikeys", accountID.String()) + ":"
}

// Save writes the record. LastUsedAt is not part of it; see TouchLastUsed.
func (r *APIKeyRepo) Save(ctx context.Context, k *models.APIKey) error {
	rec := *k
	rec.LastUsedAt = nil
	return kv.PutJSON(ctx, r.store, apiKeyKey(k.ID), &rec)
}

// TouchLastUsed records a successful use without touching the key record.
func (r *APIKeyRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	return r.store.Put(ctx, lastUsedKey(id), []byte(at.UTC().Format(time.RFC3339Nano)))
}

// Index adds the key to its account's index.
func (r *APIKeyRepo) Index(ctx context.Context, k *models.APIKey) error {
	return r.store.Put(ctx, accountIndexPrefix(k.AccountID)+k.ID, []byte(k.ID))
}

// Remove deletes the record and its index entry. Used to roll back a
// partially created key.
func (r *APIKeyRepo) Remove(ctx context.Context, k *models.APIKey) error {
	err1 := r.store.Delete(ctx, accountIndexPrefix(k.AccountID)+k.ID)
	err2 := r.store.Delete(ctx, apiKeyKey(k.ID))
	err3 := r.store.Delete(ctx, lastUsedKey(k.ID))
	return errors.Join(err1, err2, err3)
}

func (r *APIKeyRepo) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	var k models.APIKey
	if err := kv.GetJSON(ctx, r.store, apiKeyKey(id), &k); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	raw, err := r.store.Get(ctx, lastUsedKey(id))
	switch {
	case err == nil:
		if at, perr := time.Parse(time.RFC3339Nano, string(raw)); perr == nil {
			k.LastUsedAt = &at
		}
	case !errors.Is(err, kv.ErrNotFound):
		return nil, fmt.Errorf("read last used: %w", err)
	}
	return &k, nil
}

// ListByAccountID returns every key of the account, revoked ones included.
// Index entries whose record has vanished are skipped.
func (r *APIKeyRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.APIKey, error) {
	prefix := accountIndexPrefix(accountID)
	names, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list key index: %w", err)
	}
	list := make([]*models.APIKey, 0, len(names))
	for _, name := range names {
		k, err := r.GetByID(ctx, strings.TrimPrefix(name, prefix))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		list = append(list, k)
	}
	return list, nil
}
