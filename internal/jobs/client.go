package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/robfig/cron/v3"

	"github.com/edgeog/backend/internal/config"
	"github.com/edgeog/backend/internal/kv"
)

// Migrate applies River's schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	return nil
}

// Schedule parses a standard five-field cron expression. A "CRON_TZ=Zone "
// prefix selects the time zone.
func Schedule(expr string) (cron.Schedule, error) {
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return s, nil
}

// PeriodicJobs builds the periodic job set from configuration.
func PeriodicJobs(cfg config.JobsConfig) ([]*river.PeriodicJob, error) {
	report, err := Schedule(cfg.OverageReportCron)
	if err != nil {
		return nil, err
	}
	sweep, err := Schedule(cfg.SweepCron)
	if err != nil {
		return nil, err
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(report, func() (river.JobArgs, *river.InsertOpts) {
			return OverageReportArgs{}, nil
		}, nil),
		river.NewPeriodicJob(sweep, func() (river.JobArgs, *river.InsertOpts) {
			return KVSweepArgs{}, nil
		}, &river.PeriodicJobOpts{RunOnStart: true}),
	}, nil
}

// NewWorkers registers the maintenance workers.
func NewWorkers(reporter Reporter, sweeper kv.Sweeper, log *slog.Logger) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker(workers, NewOverageReportWorker(reporter, log))
	river.AddWorker(workers, NewKVSweepWorker(sweeper, log))
	return workers
}

// NewClient returns a River client that runs the maintenance workers on
// their schedules once started.
func NewClient(pool *pgxpool.Pool, cfg config.JobsConfig, reporter Reporter, sweeper kv.Sweeper, log *slog.Logger) (*river.Client[pgx.Tx], error) {
	periodic, err := PeriodicJobs(cfg)
	if err != nil {
		return nil, err
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers:      NewWorkers(reporter, sweeper, log),
		PeriodicJobs: periodic,
		Logger:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return client, nil
}
