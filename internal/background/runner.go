// Package background runs fire-and-forget side effects (usage increments,
// overage records, last-used timestamps) detached from the request that
// scheduled them. Failures are logged and counted, never returned.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edgeog/backend/internal/logger"
	"github.com/edgeog/backend/internal/metrics"
)

const DefaultTimeout = 10 * time.Second

type Runner struct {
	log     *slog.Logger
	metrics *metrics.Collector
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewRunner(log *slog.Logger, m *metrics.Collector, timeout time.Duration) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{log: log.With("component", "background"), metrics: m, timeout: timeout}
}

// Go runs fn on its own goroutine. The context passed to fn keeps ctx's
// values (correlation id) but not its cancellation, and is bounded by the
// runner's timeout.
func (r *Runner) Go(ctx context.Context, name string, fn func(context.Context) error) {
	r.wg.Add(1)
	detached := context.WithoutCancel(ctx)
	go func() {
		defer r.wg.Done()
		tctx, cancel := context.WithTimeout(detached, r.timeout)
		defer cancel()

		if err := r.run(tctx, fn); err != nil {
			logger.FromContext(tctx, r.log).Warn("background task failed", "task", name, "error", err)
			r.metrics.RecordBackgroundFailure(name)
		}
	}()
}

func (r *Runner) run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every scheduled task has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
