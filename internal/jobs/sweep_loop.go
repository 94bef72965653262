package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgeog/backend/internal/kv"
)

// Scheduler yields the next activation after a given time. cron.Schedule
// satisfies it.
type Scheduler interface {
	Next(time.Time) time.Time
}

// RunSweepLoop sweeps expired entries on schedule until ctx is done. It
// covers backends that run without River.
func RunSweepLoop(ctx context.Context, schedule Scheduler, sweeper kv.Sweeper, log *slog.Logger) {
	w := NewKVSweepWorker(sweeper, log)
	for {
		wait := time.Until(schedule.Next(time.Now()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := w.Work(ctx, nil); err != nil {
			log.Warn("kv sweep failed", "error", err)
		}
	}
}
