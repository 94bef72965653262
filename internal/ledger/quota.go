package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/edgeog/backend/internal/kv"
	"github.com/edgeog/backend/internal/models"
)

// usageTTL keeps a month's counter around long enough for end-of-month
// reporting, after which the store may drop it.
const usageTTL = 62 * 24 * time.Hour

// QuotaStatus is the outcome of a quota check.
type QuotaStatus struct {
	Allowed bool
	Limit   int64
	Usage   int64
}

// QuotaLedger counts requests per metered subject per UTC month under
// usage:{meterId}:{YYYYMM}.
type QuotaLedger struct {
	counters counterRepo
	plans    *PlanTable
	now      func() time.Time
}

func NewQuotaLedger(store kv.Store, plans *PlanTable) *QuotaLedger {
	return &QuotaLedger{counters: counterRepo{store: store}, plans: plans, now: time.Now}
}

// SetClock replaces the time source.
func (q *QuotaLedger) SetClock(now func() time.Time) { q.now = now }

func (q *QuotaLedger) key(meterID string) string {
	return kv.Key("usage", meterID, monthKey(q.now()))
}

func (q *QuotaLedger) LimitFor(plan models.Plan) int64 {
	return q.plans.LimitFor(plan)
}

// Usage returns this month's count.
func (q *QuotaLedger) Usage(ctx context.Context, meterID string) (int64, error) {
	return q.counters.get(ctx, q.key(meterID))
}

// Check reports whether one more request fits under the plan's limit
// without changing the count.
func (q *QuotaLedger) Check(ctx context.Context, meterID string, plan models.Plan) (QuotaStatus, error) {
	limit := q.plans.LimitFor(plan)
	used, err := q.Usage(ctx, meterID)
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("read usage: %w", err)
	}
	return QuotaStatus{Allowed: used < limit, Limit: limit, Usage: used}, nil
}

// Increment adds one to this month's count and returns the new value.
func (q *QuotaLedger) Increment(ctx context.Context, meterID string) (int64, error) {
	key := q.key(meterID)
	used, err := q.counters.get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read usage: %w", err)
	}
	used++
	if err := q.counters.set(ctx, key, used, usageTTL); err != nil {
		return 0, fmt.Errorf("write usage: %w", err)
	}
	return used, nil
}

// CheckAndIncrement refuses without writing when the count has reached the
// limit; otherwise it records the request. A request that brings the count
// exactly to the limit is allowed.
func (q *QuotaLedger) CheckAndIncrement(ctx context.Context, meterID string, plan models.Plan) (QuotaStatus, error) {
	limit := q.plans.LimitFor(plan)
	key := q.key(meterID)
	used, err := q.counters.get(ctx, key)
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("read usage: %w", err)
	}
	if used >= limit {
		return QuotaStatus{Allowed: false, Limit: limit, Usage: used}, nil
	}
	used++
	if err := q.counters.set(ctx, key, used, usageTTL); err != nil {
		return QuotaStatus{}, fmt.Errorf("write usage: %w", err)
	}
	return QuotaStatus{Allowed: true, Limit: limit, Usage: used}, nil
}

// Reset sets this month's count back to zero.
func (q *QuotaLedger) Reset(ctx context.Context, meterID string) error {
	return q.counters.set(ctx, q.key(meterID), 0, usageTTL)
}
