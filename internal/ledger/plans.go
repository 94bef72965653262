package ledger

import (
	"maps"
	"sync/atomic"

	"github.com/edgeog/backend/internal/models"
)

// PlanTable maps plans to monthly request limits. It is the single source of
// limits for the gateway and the dashboard, and can be swapped at runtime
// when the configuration file changes.
type PlanTable struct {
	limits atomic.Pointer[map[models.Plan]int64]
}

func NewPlanTable(limits map[string]int64) *PlanTable {
	t := &PlanTable{}
	t.Replace(limits)
	return t
}

// Replace installs a new set of limits atomically.
func (t *PlanTable) Replace(limits map[string]int64) {
	m := make(map[models.Plan]int64, len(limits))
	for name, limit := range limits {
		m[models.Plan(name)] = limit
	}
	t.limits.Store(&m)
}

// LimitFor returns the plan's limit. Unknown plans get the free limit.
func (t *PlanTable) LimitFor(plan models.Plan) int64 {
	m := *t.limits.Load()
	if limit, ok := m[plan]; ok {
		return limit
	}
	return m[models.PlanFree]
}

func (t *PlanTable) Snapshot() map[models.Plan]int64 {
	return maps.Clone(*t.limits.Load())
}
