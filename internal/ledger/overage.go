package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edgeog/backend/internal/kv"
)

const overageTTL = 90 * 24 * time.Hour

type overageRecord struct {
	Count int64 `json:"count"`
}

// OverageLedger tracks paid-plan requests beyond the monthly limit, per
// account per UTC day, and produces the daily billing report.
//
//	overage:{accountId}:{YYYYMMDD} -> {"count": n}
//	overage:reported:{YYYYMMDD}    -> reported marker
type OverageLedger struct {
	store kv.Store
	now   func() time.Time
}

func NewOverageLedger(store kv.Store) *OverageLedger {
	return &OverageLedger{store: store, now: time.Now}
}

func (o *OverageLedger) SetClock(now func() time.Time) { o.now = now }

func reportedKey(day string) string { return kv.Key("overage", "reported", day) }

// OnExceeded records one over-limit request for the account today.
func (o *OverageLedger) OnExceeded(ctx context.Context, accountID uuid.UUID) error {
	key := kv.Key("overage", accountID.String(), dayKey(o.now()))
	var rec overageRecord
	if err := kv.GetJSON(ctx, o.store, key, &rec); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("read overage: %w", err)
	}
	rec.Count++
	if err := kv.PutJSON(ctx, o.store, key, rec, kv.WithTTL(overageTTL)); err != nil {
		return fmt.Errorf("write overage: %w", err)
	}
	return nil
}

type ReportItem struct {
	AccountID string `json:"account_id"`
	Overage   int64  `json:"overage"`
}

type Report struct {
	Date            string       `json:"date"`
	Items           []ReportItem `json:"items,omitempty"`
	AlreadyReported bool         `json:"already_reported,omitempty"`
}

// ReportDaily collects the overage counts for date's UTC day and marks the
// day reported. A zero date means yesterday. A day that was already
// reported yields AlreadyReported and nothing else.
//
// The marker check and write are separate calls, so two concurrent runs for
// the same day can both produce a report.
func (o *OverageLedger) ReportDaily(ctx context.Context, date time.Time) (*Report, error) {
	if date.IsZero() {
		date = o.now().UTC().AddDate(0, 0, -1)
	}
	day := dayKey(date)
	rep := &Report{Date: date.UTC().Format("2006-01-02")}

	_, err := o.store.Get(ctx, reportedKey(day))
	switch {
	case err == nil:
		rep.AlreadyReported = true
		return rep, nil
	case !errors.Is(err, kv.ErrNotFound):
		return nil, fmt.Errorf("read reported marker: %w", err)
	}

	names, err := o.store.List(ctx, "overage:")
	if err != nil {
		return nil, fmt.Errorf("list overage: %w", err)
	}
	suffix := ":" + day
	for _, name := range names {
		if !strings.HasSuffix(name, suffix) || strings.HasPrefix(name, "overage:reported:") {
			continue
		}
		accountID := strings.TrimSuffix(strings.TrimPrefix(name, "overage:"), suffix)
		var rec overageRecord
		if err := kv.GetJSON(ctx, o.store, name, &rec); err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if rec.Count > 0 {
			rep.Items = append(rep.Items, ReportItem{AccountID: accountID, Overage: rec.Count})
		}
	}
	sort.Slice(rep.Items, func(i, j int) bool { return rep.Items[i].AccountID < rep.Items[j].AccountID })

	marker, _ := json.Marshal(map[string]any{"reported_at": o.now().UTC()})
	if err := o.store.Put(ctx, reportedKey(day), marker); err != nil {
		return nil, fmt.Errorf("write reported marker: %w", err)
	}
	return rep, nil
}
