// Package ledger tracks monthly LLM spend against a budget ceiling.
//
// State lives in a small JSON file, {"month":"YYYY-MM","total_cost":1.23},
// rewritten atomically on every change. The first access in a new calendar
// month (UTC) resets the spend to zero, so the budget gate is never computed
// against a previous month's total.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/kalambet/sift/internal/fsutil"
)

const monthLayout = "2006-01"

// precision is the resolution amounts are rounded to, so that a series of
// float additions can still spend the budget down to exactly zero.
const precision = 1e9

func round(x float64) float64 { return math.Round(x*precision) / precision }

type record struct {
	Month     string  `json:"month"`
	TotalCost float64 `json:"total_cost"`
}

// Snapshot is a point-in-time view of the ledger.
type Snapshot struct {
	Month     string  `json:"month"`
	Spent     float64 `json:"spent"`
	Ceiling   float64 `json:"ceiling"`
	Remaining float64 `json:"remaining"`
}

// Ledger is a single-writer monthly spend tracker. Methods are safe for
// concurrent use within one process.
type Ledger struct {
	path    string
	ceiling float64

	mu     sync.Mutex
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger used for rollover and corruption notices.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Open returns a Ledger persisted at path with the given monthly ceiling in
// USD. The file is created on first write.
func Open(path string, ceiling float64, opts ...Option) *Ledger {
	l := &Ledger{
		path:    path,
		ceiling: ceiling,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Path returns the backing file path.
func (l *Ledger) Path() string { return l.path }

// Ceiling returns the configured monthly ceiling.
func (l *Ledger) Ceiling() float64 { return l.ceiling }

// AddCost adds amount to the current month's spend and persists it.
func (l *Ledger) AddCost(amount float64) error {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("invalid cost amount %v", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.current()
	r.TotalCost = round(r.TotalCost + amount)
	if err := l.save(r); err != nil {
		return fmt.Errorf("persisting ledger: %w", err)
	}
	return nil
}

// Spent returns the current month's cumulative spend.
func (l *Ledger) Spent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current().TotalCost
}

// RemainingBudget returns max(0, ceiling - spent) for the current month.
func (l *Ledger) RemainingBudget() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining(l.current())
}

// CanProcess reports whether estimatedCost fits in the remaining budget.
func (l *Ledger) CanProcess(estimatedCost float64) bool {
	remaining := l.RemainingBudget()
	if round(estimatedCost) <= remaining {
		return true
	}
	l.logger.Warn("estimated cost exceeds remaining budget",
		"estimated_cost", estimatedCost,
		"remaining", remaining,
		"ceiling", l.ceiling,
	)
	return false
}

// Snapshot returns the current month, spend, ceiling and remaining budget.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.current()
	return Snapshot{
		Month:     r.Month,
		Spent:     r.TotalCost,
		Ceiling:   l.ceiling,
		Remaining: l.remaining(r),
	}
}

func (l *Ledger) remaining(r record) float64 {
	return math.Max(0, round(l.ceiling-r.TotalCost))
}

// current loads the persisted record, resetting it when the month changed.
// Must be called with l.mu held.
func (l *Ledger) current() record {
	month := l.now().UTC().Format(monthLayout)

	r, err := l.load()
	if err != nil {
		l.logger.Warn("cost ledger unreadable, treating as empty", "path", l.path, "error", err)
		return record{Month: month}
	}
	if r.Month == month {
		return r
	}

	if r.Month != "" {
		l.logger.Info("cost ledger month rollover", "previous_month", r.Month, "previous_total", r.TotalCost, "month", month)
	}
	r = record{Month: month}
	if err := l.save(r); err != nil {
		l.logger.Warn("persisting ledger rollover failed", "path", l.path, "error", err)
	}
	return r
}

func (l *Ledger) load() (record, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return record{}, nil
	}
	if err != nil {
		return record{}, err
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return record{}, fmt.Errorf("decoding ledger: %w", err)
	}
	if _, err := time.Parse(monthLayout, r.Month); err != nil {
		return record{}, fmt.Errorf("invalid month %q", r.Month)
	}
	return r, nil
}

func (l *Ledger) save(r record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(l.path, data, 0o644)
}
