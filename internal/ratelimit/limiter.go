// Package ratelimit bounds outbound request rate with a sliding window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultWindow = time.Minute

// Limiter allows at most limit calls in any rolling window. One instance is
// meant to be shared by every caller that talks to the same upstream.
type Limiter struct {
	limit  int
	window time.Duration

	mu     sync.Mutex
	stamps []time.Time // issue times of the most recent calls, oldest first

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter allowing rpm requests per rolling minute.
// rpm <= 0 disables limiting.
func New(rpm int) *Limiter {
	return NewWithWindow(rpm, defaultWindow)
}

// NewWithWindow creates a Limiter allowing limit calls per window.
func NewWithWindow(limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = defaultWindow
	}
	return &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Acquire blocks until another call fits in the window.
func (l *Limiter) Acquire() {
	_ = l.Wait(context.Background())
}

// Wait blocks until another call fits in the window or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.limit <= 0 {
		return nil
	}
	for {
		d := l.reserve()
		if d <= 0 {
			return nil
		}
		if err := l.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// reserve records a call and returns 0 when one fits, otherwise it returns
// how long until the oldest recorded call leaves the window.
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	l.stamps = l.stamps[i:]

	if len(l.stamps) < l.limit {
		l.stamps = append(l.stamps, now)
		return 0
	}
	return l.stamps[0].Add(l.window).Sub(now)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
