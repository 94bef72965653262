// Package jobs runs the periodic maintenance work on River: the daily
// overage report and expiry sweeps of the SQL key-value backends.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/edgeog/backend/internal/kv"
	"github.com/edgeog/backend/internal/ledger"
)

type OverageReportArgs struct {
	// Date is YYYY-MM-DD; empty means yesterday (UTC).
	Date string `json:"date,omitempty"`
}

func (OverageReportArgs) Kind() string { return "overage_report" }

// Reporter produces the daily overage report.
type Reporter interface {
	ReportDaily(ctx context.Context, date time.Time) (*ledger.Report, error)
}

type OverageReportWorker struct {
	river.WorkerDefaults[OverageReportArgs]
	reporter Reporter
	log      *slog.Logger
}

func NewOverageReportWorker(r Reporter, log *slog.Logger) *OverageReportWorker {
	return &OverageReportWorker{reporter: r, log: log}
}

func (w *OverageReportWorker) Work(ctx context.Context, job *river.Job[OverageReportArgs]) error {
	var date time.Time
	if job.Args.Date != "" {
		d, err := time.Parse(time.DateOnly, job.Args.Date)
		if err != nil {
			// Retrying cannot fix a malformed date.
			return river.JobCancel(fmt.Errorf("parse date: %w", err))
		}
		date = d
	}
	rep, err := w.reporter.ReportDaily(ctx, date)
	if err != nil {
		return fmt.Errorf("overage report: %w", err)
	}
	if rep.AlreadyReported {
		w.log.Info("overage report skipped, already reported", "date", rep.Date)
		return nil
	}
	var total int64
	for _, it := range rep.Items {
		total += it.Overage
	}
	w.log.Info("overage report", "date", rep.Date, "accounts", len(rep.Items), "overage_total", total)
	return nil
}

type KVSweepArgs struct{}

func (KVSweepArgs) Kind() string { return "kv_sweep" }

type KVSweepWorker struct {
	river.WorkerDefaults[KVSweepArgs]
	sweeper kv.Sweeper
	log     *slog.Logger
}

func NewKVSweepWorker(s kv.Sweeper, log *slog.Logger) *KVSweepWorker {
	return &KVSweepWorker{sweeper: s, log: log}
}

func (w *KVSweepWorker) Work(ctx context.Context, _ *river.Job[KVSweepArgs]) error {
	n, err := w.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("kv sweep: %w", err)
	}
	if n > 0 {
		w.log.Info("kv sweep", "deleted", n)
	}
	return nil
}

func (w *KVSweepWorker) Timeout(*river.Job[KVSweepArgs]) time.Duration { return 5 * time.Minute }
