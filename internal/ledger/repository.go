package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edgeog/backend/internal/kv"
)

// counterRepo stores integer counters as decimal strings. Writes are plain
// read-modify-write: the store offers no compare-and-swap, so concurrent
// increments of one counter can be lost. Quota overcount or undercount of
// that size is accepted.
type counterRepo struct {
	store kv.Store
}

func (r counterRepo) get(ctx context.Context, key string) (int64, error) {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt counter %s: %w", key, err)
	}
	return n, nil
}

func (r counterRepo) set(ctx context.Context, key string, n int64, ttl time.Duration) error {
	return r.store.Put(ctx, key, []byte(strconv.FormatInt(n, 10)), kv.WithTTL(ttl))
}

func monthKey(t time.Time) string { return t.UTC().Format("200601") }

func dayKey(t time.Time) string { return t.UTC().Format("20060102") }
