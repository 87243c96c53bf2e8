package jobs

import (
	"context"
	"fmt"
	"time"

	"circlesave.backend/pkg/logger"
	"circlesave.backend/pkg/metrics"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const defaultCycleEndInterval = time.Minute

// CycleAdvancer moves circles whose end cycle has passed to Ended
type CycleAdvancer interface {
	AdvanceEndedCycles(ctx context.Context, now time.Time) (int64, error)
}

var newScheduler = func() (gocron.Scheduler, error) {
	return gocron.NewScheduler()
}

// CycleEndJob sweeps Active circles into Ended once their cycle elapses
type CycleEndJob struct {
	ledger    CycleAdvancer
	interval  time.Duration
	now       func() time.Time
	scheduler gocron.Scheduler
}

func NewCycleEndJob(ledger CycleAdvancer, interval time.Duration) *CycleEndJob {
	if interval <= 0 {
		interval = defaultCycleEndInterval
	}
	return &CycleEndJob{
		ledger:   ledger,
		interval: interval,
		now:      time.Now,
	}
}

// Start schedules the sweep. Runs never overlap; a run that is still busy
// when the next one is due pushes it to the following interval.
func (j *CycleEndJob) Start(ctx context.Context) error {
	sched, err := newScheduler()
	if err != nil {
		return fmt.Errorf("cycle end scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(func() {
			j.sweep(ctx)
		}),
		gocron.WithName("cycle-end-sweeper"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("cycle end job: %w", err)
	}

	j.scheduler = sched
	sched.Start()
	logger.Info(ctx, "Cycle end job started", zap.Duration("interval", j.interval))
	return nil
}

// Stop waits for a running sweep and shuts the scheduler down
func (j *CycleEndJob) Stop() error {
	if j.scheduler == nil {
		return nil
	}
	err := j.scheduler.Shutdown()
	j.scheduler = nil
	return err
}

func (j *CycleEndJob) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	advanced, err := j.ledger.AdvanceEndedCycles(ctx, j.now())
	metrics.JobRuns.WithLabelValues("cycle_end", metrics.Result(err)).Inc()
	if err != nil {
		logger.Error(ctx, "Cycle end sweep failed", zap.Error(err))
		return
	}
	if advanced > 0 {
		logger.Info(ctx, "Cycle end sweep finished", zap.Int64("advanced", advanced))
	}
}
