// Package scheduler runs a job once a day at a fixed UTC time and reloads
// its settings when the config file changes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ParseDailyAt parses an "HH:MM" time of day.
func ParseDailyAt(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid daily time %q, want HH:MM: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// NextRun returns the first hour:minute UTC strictly after now.
func NextRun(now time.Time, hour, minute int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Job is one scheduled run.
type Job func(ctx context.Context)

// Scheduler calls a Job daily. Runs execute on the scheduler's goroutine, so
// they never overlap: a run that outlasts a day delays the next one.
type Scheduler struct {
	job    Job
	logger *slog.Logger

	mu     sync.Mutex
	hour   int
	minute int
	reset  chan struct{}

	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

// New creates a Scheduler running job daily at dailyAt ("HH:MM", UTC).
func New(dailyAt string, job Job) (*Scheduler, error) {
	h, m, err := ParseDailyAt(dailyAt)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		job:    job,
		logger: slog.Default(),
		hour:   h,
		minute: m,
		reset:  make(chan struct{}, 1),
		now:    time.Now,
		after:  time.After,
	}, nil
}

// WithLogger sets the scheduler's logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// SetDailyAt changes the run time. A pending wait is recomputed.
func (s *Scheduler) SetDailyAt(dailyAt string) error {
	h, m, err := ParseDailyAt(dailyAt)
	if err != nil {
		return err
	}
	s.mu.Lock()
	changed := h != s.hour || m != s.minute
	s.hour, s.minute = h, m
	s.mu.Unlock()
	if changed {
		select {
		case s.reset <- struct{}{}:
		default:
		}
	}
	return nil
}

// Next returns the next scheduled run time.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NextRun(s.now(), s.hour, s.minute)
}

// Run blocks until ctx is cancelled. With runNow, the job runs once
// immediately before the first scheduled time.
func (s *Scheduler) Run(ctx context.Context, runNow bool) error {
	if runNow {
		s.fire(ctx)
	}
	for {
		next := s.Next()
		s.logger.Info("next scheduled run", "at", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			return nil
		case <-s.reset:
			continue
		case <-s.after(next.Sub(s.now())):
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("scheduled run panicked", "panic", p)
		}
	}()
	start := time.Now()
	s.job(ctx)
	s.logger.Info("scheduled run finished", "duration", time.Since(start))
}
