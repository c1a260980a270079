// Package worker runs background jobs of the service.
package worker

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/observability"
)

// Sweeper promotes due scheduled tickets and reports how many moved.
type Sweeper interface {
	PromoteDue(ctx context.Context) (int, error)
}

// Locker elects a single sweeper across instances.
type Locker interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// SweepWorker runs the scheduled-ticket sweep on a fixed interval.
type SweepWorker struct {
	scheduler gocron.Scheduler
	sweeper   Sweeper
	lock      Locker
	metrics   *observability.Metrics
	logger    *zap.Logger
	interval  time.Duration
}

// SweepWorkerConfig bundles collaborators. Lock may be nil for a single instance.
type SweepWorkerConfig struct {
	Sweeper  Sweeper
	Lock     Locker
	Metrics  *observability.Metrics
	Logger   *zap.Logger
	Interval time.Duration
}

// NewSweepWorker registers the sweep job; call Start to run it.
func NewSweepWorker(cfg SweepWorkerConfig) (*SweepWorker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	w := &SweepWorker{
		scheduler: scheduler,
		sweeper:   cfg.Sweeper,
		lock:      cfg.Lock,
		metrics:   cfg.Metrics,
		logger:    logger.Named("sweep"),
		interval:  interval,
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			_, _ = w.RunOnce(ctx)
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("scheduled-ticket-sweep"),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, err
	}
	return w, nil
}

// Start begins running the job in the background.
func (w *SweepWorker) Start() {
	w.scheduler.Start()
	w.logger.Info("sweep worker started", zap.Duration("interval", w.interval))
}

// Shutdown stops the scheduler and waits for a running sweep to finish.
func (w *SweepWorker) Shutdown() error {
	return w.scheduler.Shutdown()
}

// RunOnce performs one sweep. When a lock is configured and another
// instance holds it, the sweep is skipped and reports zero.
func (w *SweepWorker) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	if w.lock != nil {
		acquired, err := w.lock.TryAcquire(ctx)
		if err != nil {
			w.logger.Warn("leader lock unavailable", zap.Error(err))
			w.metrics.RecordSweep(0, err)
			return 0, err
		}
		if !acquired {
			w.logger.Debug("another instance is sweeping")
			w.metrics.RecordSweepSkipped()
			return 0, nil
		}
		defer func() {
			if err := w.lock.Release(context.Background()); err != nil {
				w.logger.Warn("release leader lock", zap.Error(err))
			}
		}()
	}

	promoted, err := w.sweeper.PromoteDue(ctx)
	w.metrics.RecordSweep(promoted, err)
	if err != nil {
		w.logger.Error("sweep failed",
			zap.Int("promoted", promoted),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return promoted, err
	}
	if promoted > 0 {
		w.logger.Info("scheduled tickets promoted",
			zap.Int("count", promoted),
			zap.Duration("duration", time.Since(start)))
	}
	return promoted, nil
}
