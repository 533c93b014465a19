package relay

import (
	"context"
	"log/slog"
	"time"

	"billrelay/mirror"
)

// SchedulerConfig configures the periodic balance sweep.
type SchedulerConfig struct {
	Synchronizer *mirror.Synchronizer
	Interval     time.Duration
	Logger       *slog.Logger
}

// Scheduler runs the balance synchronizer on a fixed cadence until its
// context is cancelled. A failed sweep is logged and the cadence continues.
type Scheduler struct {
	synchronizer *mirror.Synchronizer
	interval     time.Duration
	logger       *slog.Logger
}

// NewScheduler constructs a scheduler with sane defaults.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		synchronizer: cfg.Synchronizer,
		interval:     interval,
		logger:       logger.With("component", "scheduler"),
	}
}

// Start begins the sweep loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.synchronizer == nil {
		return
	}
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := s.synchronizer.Sync(ctx); err != nil {
				s.logger.Error("scheduled sweep failed", "error", err)
			}
			timer.Reset(s.interval)
		}
	}
}
