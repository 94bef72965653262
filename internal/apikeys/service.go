// Package apikeys issues, validates, lists and revokes API keys. Only an
// HMAC of each key is stored; the full key is returned once, at creation.
package apikeys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edgeog/backend/internal/keys"
	"github.com/edgeog/backend/internal/logger"
	"github.com/edgeog/backend/internal/models"
	"github.com/edgeog/backend/internal/repository"
	"github.com/edgeog/backend/internal/secure"
)

var (
	// ErrInvalidKey is returned for every validation refusal: malformed,
	// unknown, revoked, mismatched, or unverifiable because the store failed.
	ErrInvalidKey = errors.New("invalid api key")
	// ErrCreateFailed hides storage detail from callers of Create.
	ErrCreateFailed = errors.New("api key could not be created")
)

const maxNameLen = 64

// Repository is the persistence the service needs.
type Repository interface {
	Save(ctx context.Context, k *models.APIKey) error
	Index(ctx context.Context, k *models.APIKey) error
	Remove(ctx context.Context, k *models.APIKey) error
	GetByID(ctx context.Context, id string) (*models.APIKey, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.APIKey, error)
}

// Scheduler runs detached side effects.
type Scheduler interface {
	Go(ctx context.Context, name string, fn func(context.Context) error)
}

type Service struct {
	repo   Repository
	pepper []byte
	bg     Scheduler
	log    *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, pepper []byte, bg Scheduler, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:   repo,
		pepper: pepper,
		bg:     bg,
		log:    log.With("component", "apikeys"),
		now:    time.Now,
	}
}

// Created is the result of Create. FullKey is never retrievable again.
type Created struct {
	Key     *models.APIKey
	FullKey string
}

func (s *Service) hash(fullKey string) string {
	return secure.HMACHex(s.pepper, fullKey)
}

// Create mints a key for the account. Partially written records are removed
// when a later write fails.
func (s *Service) Create(ctx context.Context, accountID uuid.UUID, name string) (*Created, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "default"
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}

	keyID, err := keys.NewKeyID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}
	secret, err := keys.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}
	full := keys.Format(keyID, secret)

	k := &models.APIKey{
		ID:        keyID,
		AccountID: accountID,
		Name:      name,
		KeyHash:   s.hash(full),
		CreatedAt: s.now().UTC(),
	}

	if err := s.repo.Save(ctx, k); err != nil {
		s.log.Error("save api key", "key_id", keyID, "error", err)
		s.rollback(ctx, k)
		return nil, ErrCreateFailed
	}
	if err := s.repo.Index(ctx, k); err != nil {
		s.log.Error("index api key", "key_id", keyID, "error", err)
		s.rollback(ctx, k)
		return nil, ErrCreateFailed
	}

	s.log.Info("api key created", "account_id", accountID, "key_id", keyID)
	return &Created{Key: k, FullKey: full}, nil
}

func (s *Service) rollback(ctx context.Context, k *models.APIKey) {
	if err := s.repo.Remove(context.WithoutCancel(ctx), k); err != nil {
		s.log.Error("rollback api key", "key_id", k.ID, "error", err)
	}
}

// Match identifies the owner of a validated key.
type Match struct {
	AccountID uuid.UUID
	KeyID     string
}

// Validate checks a candidate key. Malformed input is rejected before any
// store access; store failures refuse. On success the key's last-used time
// is updated in the background.
func (s *Service) Validate(ctx context.Context, candidate string) (*Match, error) {
	keyID, _, err := keys.Parse(candidate)
	if err != nil {
		return nil, ErrInvalidKey
	}

	k, err := s.repo.GetByID(ctx, keyID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.FromContext(ctx, s.log).Warn("api key lookup failed", "key_id", keyID, "error", err)
		}
		return nil, ErrInvalidKey
	}
	if k.Revoked {
		return nil, ErrInvalidKey
	}
	if !secure.EqualString(s.hash(candidate), k.KeyHash) {
		return nil, ErrInvalidKey
	}

	if s.bg != nil {
		s.bg.Go(ctx, "apikey_last_used", func(ctx context.Context) error {
			return s.touch(ctx, keyID)
		})
	}
	return &Match{AccountID: k.AccountID, KeyID: k.ID}, nil
}

// touch records the use. It writes only the last-used entry, so it cannot
// race with Revoke on the key record.
func (s *Service) touch(ctx context.Context, keyID string) error {
	return s.repo.TouchLastUsed(ctx, keyID, s.now())
}

// Summary is the listing view of a key. It never carries the hash.
type Summary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	CreatedAt  time.Time  `json:"created"`
	LastUsedAt *time.Time `json:"last_used,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// List returns the account's keys, newest first, revoked ones included.
func (s *Service) List(ctx context.Context, accountID uuid.UUID) ([]Summary, error) {
	records, err := s.repo.ListByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	out := make([]Summary, 0, len(records))
	for _, k := range records {
		out = append(out, Summary{
			ID:         k.ID,
			Name:       k.Name,
			Prefix:     keys.DisplayPrefix(k.ID),
			CreatedAt:  k.CreatedAt,
			LastUsedAt: k.LastUsedAt,
			Revoked:    k.Revoked,
		})
	}
	return out, nil
}

// Active filters revoked keys out of a listing.
func Active(list []Summary) []Summary {
	out := make([]Summary, 0, len(list))
	for _, k := range list {
		if !k.Revoked {
			out = append(out, k)
		}
	}
	return out
}

// Revoke marks the key revoked. It reports false when the key does not exist
// or belongs to another account; revoking twice reports true both times.
func (s *Service) Revoke(ctx context.Context, keyID string, accountID uuid.UUID) (bool, error) {
	k, err := s.repo.GetByID(ctx, keyID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if k.AccountID != accountID {
		return false, nil
	}
	if k.Revoked {
		return true, nil
	}
	k.Revoked = true
	if err := s.repo.Save(ctx, k); err != nil {
		return false, err
	}
	s.log.Info("api key revoked", "account_id", accountID, "key_id", keyID)
	return true, nil
}
