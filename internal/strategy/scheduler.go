package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// Reporter receives the report of every cycle.
type Reporter interface {
	Report(ctx context.Context, r domain.CycleReport)
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Interval time.Duration
	// CycleTimeout bounds one cycle, trade execution included. Zero means
	// four intervals, at least 30s.
	CycleTimeout time.Duration
	// Lock, when set, makes the cycle exclusive across processes.
	Lock    domain.LockManager
	LockTTL time.Duration
}

// Scheduler drives one Strategy on a fixed ticker. At most one cycle runs at
// a time; a tick arriving while a cycle is in flight is skipped and counted,
// never queued.
type Scheduler struct {
	strategy Strategy
	opts     SchedulerOptions
	reporter Reporter
	logger   *slog.Logger

	inFlight atomic.Bool
	cycles   atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64
	running  atomic.Bool
	last     atomic.Pointer[domain.CycleReport]
	wg       sync.WaitGroup
}

// NewScheduler creates a Scheduler for s.
func NewScheduler(s Strategy, opts SchedulerOptions, logger *slog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = max(4*opts.Interval, 30*time.Second)
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = opts.CycleTimeout
	}
	return &Scheduler{
		strategy: s,
		opts:     opts,
		logger:   logger.With(slog.String("component", "scheduler"), slog.String("strategy", s.Name())),
	}
}

// SetReporter sets where cycle reports are published.
func (s *Scheduler) SetReporter(r Reporter) {
	s.reporter = r
}

// Name returns the strategy name.
func (s *Scheduler) Name() string {
	return s.strategy.Name()
}

// Run ticks until ctx is cancelled. The first cycle starts immediately. On
// return it has waited for the in-flight cycle to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)
	defer s.wg.Wait()

	s.logger.Info("scheduler started", slog.Duration("interval", s.opts.Interval))
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping, waiting for in-flight cycle")
			return nil
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick starts a cycle unless one is already running.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if !s.inFlight.CompareAndSwap(false, true) {
		n := s.skipped.Add(1)
		s.logger.Debug("tick skipped, cycle in flight", slog.Int64("skipped_total", n))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		// A started cycle is not cancelled by shutdown, only by CycleTimeout.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.CycleTimeout)
		defer cancel()
		s.runCycle(cctx, now)
	}()
}

// RunOnce runs a single cycle synchronously, honoring the in-flight flag.
// It reports false when a cycle was already running.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (domain.CycleReport, bool) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return domain.CycleReport{}, false
	}
	defer s.inFlight.Store(false)
	return s.runCycle(ctx, now), true
}

func (s *Scheduler) runCycle(ctx context.Context, now time.Time) (rep domain.CycleReport) {
	defer func() {
		if r := recover(); r != nil {
			s.failures.Add(1)
			s.logger.Error("cycle panicked", slog.Any("panic", r))
			rep = s.baseReport(now, domain.CycleError, fmt.Sprint(r))
			s.publish(ctx, rep)
		}
	}()

	if s.opts.Lock != nil {
		key := fmt.Sprintf("cycle:%s:%s", s.strategy.Name(), s.strategy.Instrument())
		unlock, err := s.opts.Lock.Acquire(ctx, key, s.opts.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.skipped.Add(1)
				s.logger.Debug("cycle lock held elsewhere", slog.String("key", key))
				rep = s.baseReport(now, domain.CycleSkipped, "lock held")
				s.publish(ctx, rep)
				return rep
			}
			s.failures.Add(1)
			s.logger.Warn("cycle lock failed", slog.String("error", err.Error()))
			rep = s.baseReport(now, domain.CycleError, err.Error())
			s.publish(ctx, rep)
			return rep
		}
		defer unlock()
	}

	s.cycles.Add(1)
	rep, err := s.strategy.Cycle(ctx, now)
	if rep.Strategy == "" {
		rep.Strategy = s.strategy.Name()
	}
	if err != nil {
		rep.Error = err.Error()
		if rep.Outcome == "" {
			rep.Outcome = domain.CycleError
		}
		level := slog.LevelWarn
		if rep.Outcome == domain.CycleSkipped {
			level = slog.LevelInfo
		} else {
			s.failures.Add(1)
		}
		s.logger.Log(ctx, level, "cycle finished with error",
			slog.String("outcome", string(rep.Outcome)),
			slog.String("error", err.Error()),
		)
	}
	s.publish(ctx, rep)
	return rep
}

func (s *Scheduler) baseReport(now time.Time, outcome domain.CycleOutcome, msg string) domain.CycleReport {
	return domain.CycleReport{
		Strategy:   s.strategy.Name(),
		Instrument: s.strategy.Instrument(),
		Outcome:    outcome,
		Error:      msg,
		At:         now,
	}
}

func (s *Scheduler) publish(ctx context.Context, rep domain.CycleReport) {
	s.last.Store(&rep)
	if s.reporter != nil {
		s.reporter.Report(ctx, rep)
	}
}

// Info returns the scheduler's runtime counters.
func (s *Scheduler) Info() StrategyInfo {
	info := StrategyInfo{
		Name:       s.strategy.Name(),
		Instrument: s.strategy.Instrument(),
		Status:     "stopped",
		Cycles:     s.cycles.Load(),
		Skipped:    s.skipped.Load(),
		ErrorCount: s.failures.Load(),
	}
	if s.running.Load() {
		info.Status = "running"
	}
	if last := s.last.Load(); last != nil {
		r := *last
		info.LastReport = &r
	}
	return info
}
