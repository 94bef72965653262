package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is stored at key:{id}. KeyHash is an HMAC of the full key; the
// plaintext key is shown once at creation and never persisted.
type APIKey struct {
	ID         string     `json:"id"`
	AccountID  uuid.UUID  `json:"account_id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"key_hash"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked"`
}
