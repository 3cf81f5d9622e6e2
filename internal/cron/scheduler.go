// Package cron drives kora-rent's unattended scheduling: a periodic sweep
// that clears stale Fetch-and-Lock locks, and optionally a full pipeline
// run on a configured cron expression, per SPEC_FULL.md §2 EXPANSION
// ("a cron-driven sweep ... periodically clears processing_lock values
// older than a configurable window").
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/kora-labs/kora-rent/internal/ledger"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the cron scheduler.
type Config struct {
	Store  *ledger.Store
	Logger *slog.Logger

	// UnlockCronExpr schedules the stale-lock sweep, e.g. "*/15 * * * *".
	UnlockCronExpr   string
	StaleLockWindow  time.Duration // how far back a lock must date to count as stale

	// FullRunCronExpr, if non-empty, schedules an unattended invocation of
	// FullRun (a complete Indexer → Lifecycle → Policy → Reclaimer run).
	FullRunCronExpr string
	FullRun         func(ctx context.Context) error

	// TickInterval is how often the scheduler checks whether a job is due;
	// defaults to 1 minute, matching cron's own minute-granularity.
	TickInterval time.Duration
}

// Scheduler periodically sweeps stale processing_lock values and, if
// configured, runs the full pipeline unattended.
type Scheduler struct {
	store  *ledger.Store
	logger *slog.Logger

	unlockExpr      string
	staleLockWindow time.Duration
	nextUnlockAt    time.Time

	fullRunExpr string
	fullRun     func(ctx context.Context) error
	nextFullRunAt time.Time

	tickInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = 1 * time.Minute
	}
	staleLockWindow := cfg.StaleLockWindow
	if staleLockWindow <= 0 {
		staleLockWindow = 1 * time.Hour
	}
	return &Scheduler{
		store:           cfg.Store,
		logger:          logger,
		unlockExpr:      cfg.UnlockCronExpr,
		staleLockWindow: staleLockWindow,
		fullRunExpr:     cfg.FullRunCronExpr,
		fullRun:         cfg.FullRun,
		tickInterval:    tickInterval,
	}
}

// Start begins the scheduler loop in a background goroutine and respects
// the provided context for shutdown. A configured job fires once
// immediately so a crash-and-restart doesn't wait a full cron period
// before its first stale-lock sweep, then reschedules on its cron
// expression from there.
func (s *Scheduler) Start(ctx context.Context) error {
	now := time.Now()
	if s.unlockExpr != "" {
		if _, err := NextRunTime(s.unlockExpr, now); err != nil {
			return err
		}
		s.nextUnlockAt = now
	}
	if s.fullRunExpr != "" && s.fullRun != nil {
		if _, err := NextRunTime(s.fullRunExpr, now); err != nil {
			return err
		}
		s.nextFullRunAt = now
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "unlock_schedule", s.unlockExpr, "full_run_schedule", s.fullRunExpr)
	return nil
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	if s.unlockExpr != "" && !s.nextUnlockAt.IsZero() && !now.Before(s.nextUnlockAt) {
		s.runUnlockSweep(ctx, now)
		if next, err := NextRunTime(s.unlockExpr, now); err == nil {
			s.nextUnlockAt = next
		}
	}

	if s.fullRunExpr != "" && s.fullRun != nil && !s.nextFullRunAt.IsZero() && !now.Before(s.nextFullRunAt) {
		s.runFullPipeline(ctx)
		if next, err := NextRunTime(s.fullRunExpr, now); err == nil {
			s.nextFullRunAt = next
		}
	}
}

func (s *Scheduler) runUnlockSweep(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.staleLockWindow)
	n, err := s.store.UnlockStaleLocks(ctx, cutoff)
	if err != nil {
		s.logger.Error("cron: stale-lock sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("cron: cleared stale processing locks", "count", n)
	}
}

func (s *Scheduler) runFullPipeline(ctx context.Context) {
	if err := s.fullRun(ctx); err != nil {
		s.logger.Error("cron: unattended full pipeline run failed", "error", err)
	}
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
