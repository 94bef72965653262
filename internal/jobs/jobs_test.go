package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeog/backend/internal/config"
	"github.com/edgeog/backend/internal/kv"
	"github.com/edgeog/backend/internal/ledger"
	"github.com/edgeog/backend/internal/logger"
)

type countingSweeper struct {
	calls int
	err   error
}

func (s *countingSweeper) Sweep(context.Context) (int64, error) {
	s.calls++
	return 3, s.err
}

func TestOverageReportWorker(t *testing.T) {
	store := kv.NewMemoryStore()
	overage := ledger.NewOverageLedger(store)
	now := time.Date(2026, 5, 2, 0, 5, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	overage.SetClock(func() time.Time { return yesterday })
	require.NoError(t, overage.OnExceeded(context.Background(), uuid.New()))
	overage.SetClock(func() time.Time { return now })

	w := NewOverageReportWorker(overage, logger.Discard())
	require.NoError(t, w.Work(context.Background(), &river.Job[OverageReportArgs]{}))

	rep, err := overage.ReportDaily(context.Background(), yesterday)
	require.NoError(t, err)
	assert.True(t, rep.AlreadyReported, "worker should have marked yesterday reported")

	// Running again for the same day is a no-op.
	require.NoError(t, w.Work(context.Background(), &river.Job[OverageReportArgs]{}))
}

func TestOverageReportWorker_ExplicitDate(t *testing.T) {
	overage := ledger.NewOverageLedger(kv.NewMemoryStore())
	w := NewOverageReportWorker(overage, logger.Discard())

	require.NoError(t, w.Work(context.Background(), &river.Job[OverageReportArgs]{Args: OverageReportArgs{Date: "2026-01-31"}}))
	rep, err := overage.ReportDaily(context.Background(), time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, rep.AlreadyReported)

	err = w.Work(context.Background(), &river.Job[OverageReportArgs]{Args: OverageReportArgs{Date: "31/01/2026"}})
	assert.Error(t, err)
}

func TestKVSweepWorker(t *testing.T) {
	s := &countingSweeper{}
	w := NewKVSweepWorker(s, logger.Discard())
	require.NoError(t, w.Work(context.Background(), &river.Job[KVSweepArgs]{}))
	assert.Equal(t, 1, s.calls)

	s.err = errors.New("db down")
	assert.Error(t, w.Work(context.Background(), &river.Job[KVSweepArgs]{}))
}

func TestSchedule(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	s, err := Schedule(cfg.Jobs.OverageReportCron)
	require.NoError(t, err)
	from := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 5, 0, 0, time.UTC), s.Next(from).UTC())

	_, err = Schedule("every day")
	assert.Error(t, err)
}

func TestPeriodicJobs(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	jobs, err := PeriodicJobs(cfg.Jobs)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	_, err = PeriodicJobs(config.JobsConfig{OverageReportCron: "5 0 * * *", SweepCron: "bogus"})
	assert.Error(t, err)
}

type everyTick time.Duration

func (e everyTick) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestRunSweepLoop(t *testing.T) {
	s := &countingSweeper{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSweepLoop(ctx, everyTick(5*time.Millisecond), s, logger.Discard())
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.GreaterOrEqual(t, s.calls, 2)
}
