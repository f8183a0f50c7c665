package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"telecast/internal/logging"
)

// Scheduler drives the poller on a fixed interval and serializes cycles: a
// manual trigger landing while a scheduled cycle runs is skipped with a log
// line rather than queued behind it.
type Scheduler struct {
	poller   *Poller
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running sync.Mutex
	ticker  *time.Ticker
	lastRun time.Time
	lastErr error
}

// NewScheduler creates a scheduler. Non-positive intervals default to thirty
// minutes.
func NewScheduler(p *Poller, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		poller:   p,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
	}
}

// Run blocks until the context is canceled, firing a cycle immediately and
// then on every tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ticker = time.NewTicker(s.interval)
	ticker := s.ticker
	s.mu.Unlock()
	defer ticker.Stop()

	s.trigger(ctx, CycleOptions{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.trigger(ctx, CycleOptions{})
		}
	}
}

// Reschedule replaces the tick interval; the next cycle fires a full new
// interval from now.
func (s *Scheduler) Reschedule(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
	if s.ticker != nil {
		s.ticker.Reset(interval)
	}
	s.logger.Info("poll interval changed", logging.Duration("interval", interval))
}

// Trigger runs a cycle now unless one is already in flight, in which case it
// reports false without blocking.
func (s *Scheduler) Trigger(ctx context.Context, opts CycleOptions) bool {
	return s.trigger(ctx, opts)
}

// TriggerAsync starts a cycle in its own goroutine unless one is already in
// flight. It returns as soon as the cycle is dispatched; callers read the
// outcome from Status.
func (s *Scheduler) TriggerAsync(ctx context.Context, opts CycleOptions) bool {
	if !s.running.TryLock() {
		s.logger.Warn("cycle already running, skipping trigger")
		return false
	}
	go func() {
		defer s.running.Unlock()
		s.runCycle(ctx, opts)
	}()
	return true
}

func (s *Scheduler) trigger(ctx context.Context, opts CycleOptions) bool {
	if !s.running.TryLock() {
		s.logger.Warn("cycle already running, skipping trigger")
		return false
	}
	defer s.running.Unlock()

	s.runCycle(ctx, opts)
	return true
}

func (s *Scheduler) runCycle(ctx context.Context, opts CycleOptions) {
	report, err := s.poller.RunCycle(ctx, opts)
	s.mu.Lock()
	s.lastRun = report.StartedAt
	s.lastErr = err
	s.mu.Unlock()
	if err != nil && ctx.Err() == nil {
		s.logger.Error("cycle failed", logging.Error(err))
	}
}

// Status reports the last cycle's start time and error.
func (s *Scheduler) Status() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}
