package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
)

// ParsePlan accepts the canonical plan names only.
func ParsePlan(s string) (Plan, error) {
	switch p := Plan(s); p {
	case PlanFree, PlanStarter, PlanPro:
		return p, nil
	}
	return "", fmt.Errorf("unknown plan %q", s)
}

// Paid reports whether over-quota usage is billed as overage instead of refused.
func (p Plan) Paid() bool {
	return p == PlanStarter || p == PlanPro
}

// Account is stored at account:{id}. The email address itself is never
// stored, only its keyed hash.
type Account struct {
	ID        uuid.UUID  `json:"id"`
	EmailHash string     `json:"email_hash"`
	Plan      Plan       `json:"plan"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}
