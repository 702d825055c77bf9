// Package scheduler runs the periodic maintenance sweeps of the booking
// service on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/iliyamo/amenity-booking/internal/clock"
	"github.com/iliyamo/amenity-booking/internal/metrics"
)

const (
	JobNoShowSweep = "noshow_sweep"
	JobExpireSweep = "expire_sweep"
)

// NoShowSweeper marks overdue bookings as no-shows.
type NoShowSweeper interface {
	SweepNoShows(ctx context.Context) (int, error)
}

// GrantExpirer stamps expired credit grants as exhausted.
type GrantExpirer interface {
	ExpireSweep(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler wraps a cron runner.  A job never overlaps with a previous run
// of itself, and a panicking job is logged instead of crashing the process.
type Scheduler struct {
	cron    *cron.Cron
	log     *zap.Logger
	clock   clock.Clock
	timeout time.Duration
}

// New returns a scheduler.  timeout bounds each job run; zero means one
// minute.
func New(log *zap.Logger, clk clock.Clock, timeout time.Duration) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	cl := cronLogger{log.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		clock:   clk,
		timeout: timeout,
	}
}

// AddNoShowSweep schedules s.SweepNoShows on spec.
func (s *Scheduler) AddNoShowSweep(spec string, sw NoShowSweeper) error {
	return s.add(spec, JobNoShowSweep, func(ctx context.Context) (int64, error) {
		n, err := sw.SweepNoShows(ctx)
		return int64(n), err
	})
}

// AddExpireSweep schedules e.ExpireSweep on spec.
func (s *Scheduler) AddExpireSweep(spec string, e GrantExpirer) error {
	return s.add(spec, JobExpireSweep, func(ctx context.Context) (int64, error) {
		return e.ExpireSweep(ctx, s.clock.Now())
	})
}

func (s *Scheduler) add(spec, name string, fn func(context.Context) (int64, error)) error {
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, fn) }); err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.log.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

func (s *Scheduler) run(name string, fn func(context.Context) (int64, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := fn(ctx)
	metrics.RecordSweep(name, err == nil)
	if err != nil {
		s.log.Error("job failed", zap.String("job", name), zap.Int64("affected", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("job finished", zap.String("job", name), zap.Int64("affected", n), zap.Duration("took", time.Since(start)))
	}
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

// Start begins running jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with jobs still running")
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.s.Errorw(msg, append(kv, "error", err)...)
}
