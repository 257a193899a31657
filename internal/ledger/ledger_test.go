package ledger

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const eps = 1e-9

func march() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }

func writeLedger(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cost_ledger.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readRecord(t *testing.T, path string) record {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading ledger: %v", err)
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("decoding ledger %q: %v", data, err)
	}
	return r
}

func TestBudgetGate_NearCeiling(t *testing.T) {
	path := writeLedger(t, `{"month":"2026-03","total_cost":9.50}`)
	l := Open(path, 10.00, WithClock(march))

	if l.CanProcess(0.60) {
		t.Error("CanProcess(0.60) = true, want false with $0.50 remaining")
	}
	if !l.CanProcess(0.40) {
		t.Fatal("CanProcess(0.40) = false, want true")
	}
	if err := l.AddCost(0.40); err != nil {
		t.Fatalf("AddCost: %v", err)
	}
	if got := l.Spent(); math.Abs(got-9.90) > eps {
		t.Errorf("Spent = %v, want 9.90", got)
	}
	if got := readRecord(t, path).TotalCost; math.Abs(got-9.90) > eps {
		t.Errorf("persisted total_cost = %v, want 9.90", got)
	}
}

func TestAddCost_DecreasesRemainingExactly(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "l.json"), 25, WithClock(march))

	for _, x := range []float64{0.125, 1.5, 3.0, 0.0} {
		before := l.RemainingBudget()
		if err := l.AddCost(x); err != nil {
			t.Fatalf("AddCost(%v): %v", x, err)
		}
		if got := before - l.RemainingBudget(); math.Abs(got-x) > eps {
			t.Errorf("remaining decreased by %v, want %v", got, x)
		}
	}
}

func TestCanProcess_BoundaryIsInclusive(t *testing.T) {
	path := writeLedger(t, `{"month":"2026-03","total_cost":4}`)
	l := Open(path, 5, WithClock(march))

	if !l.CanProcess(1) {
		t.Error("CanProcess(remaining) should be true")
	}
	if l.CanProcess(1.0001) {
		t.Error("CanProcess(remaining+epsilon) should be false")
	}
}

func TestCanProcess_ExactFitAfterAdditions(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "l.json"), 10, WithClock(march))

	for _, x := range []float64{9.5, 0.4} {
		if err := l.AddCost(x); err != nil {
			t.Fatalf("AddCost(%v): %v", x, err)
		}
	}
	if got := l.RemainingBudget(); got != 0.1 {
		t.Errorf("RemainingBudget = %v, want 0.1", got)
	}
	if !l.CanProcess(0.1) {
		t.Fatal("CanProcess(0.1) = false with exactly $0.10 remaining")
	}
	if err := l.AddCost(0.1); err != nil {
		t.Fatalf("AddCost: %v", err)
	}
	if got := l.RemainingBudget(); got != 0 {
		t.Errorf("RemainingBudget = %v, want 0 after spending the ceiling", got)
	}
	if l.CanProcess(0.000001) {
		t.Error("CanProcess should reject any cost once the ceiling is reached")
	}
}

func TestRemainingBudget_NeverNegative(t *testing.T) {
	path := writeLedger(t, `{"month":"2026-03","total_cost":12}`)
	l := Open(path, 10, WithClock(march))

	if got := l.RemainingBudget(); got != 0 {
		t.Errorf("RemainingBudget = %v, want 0", got)
	}
}

func TestMonthRollover_ResetsOnRead(t *testing.T) {
	path := writeLedger(t, `{"month":"2026-02","total_cost":9.75}`)
	l := Open(path, 10, WithClock(march))

	if got := l.RemainingBudget(); got != 10 {
		t.Errorf("RemainingBudget after rollover = %v, want 10", got)
	}
	r := readRecord(t, path)
	if r.Month != "2026-03" || r.TotalCost != 0 {
		t.Errorf("persisted record = %+v, want {2026-03 0}", r)
	}
}

func TestMonthRollover_BetweenCalls(t *testing.T) {
	now := time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC)
	l := Open(filepath.Join(t.TempDir(), "l.json"), 10, WithClock(func() time.Time { return now }))

	if err := l.AddCost(6); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)

	snap := l.Snapshot()
	if snap.Month != "2026-02" {
		t.Errorf("Month = %q, want 2026-02", snap.Month)
	}
	if snap.Spent != 0 || snap.Remaining != 10 {
		t.Errorf("snapshot = %+v, want spent 0 remaining 10", snap)
	}
}

func TestCorruptFile_TreatedAsEmpty(t *testing.T) {
	path := writeLedger(t, `{"month": not json`)
	l := Open(path, 10, WithClock(march))

	if got := l.RemainingBudget(); got != 10 {
		t.Errorf("RemainingBudget with corrupt ledger = %v, want 10", got)
	}
	if err := l.AddCost(1.25); err != nil {
		t.Fatalf("AddCost: %v", err)
	}
	if r := readRecord(t, path); r.Month != "2026-03" || math.Abs(r.TotalCost-1.25) > eps {
		t.Errorf("record after overwrite = %+v", r)
	}
}

func TestMissingFile_StartsAtZero(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "sub", "l.json"), 3, WithClock(march))
	if got := l.Spent(); got != 0 {
		t.Errorf("Spent = %v, want 0", got)
	}
	if err := l.AddCost(1); err != nil {
		t.Fatalf("AddCost should create parent dirs: %v", err)
	}
}

func TestAddCost_RejectsNegative(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "l.json"), 3, WithClock(march))
	if err := l.AddCost(-1); err == nil {
		t.Error("expected error for negative amount")
	}
}

func TestAddCost_Concurrent(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "l.json"), 100, WithClock(march))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.AddCost(0.5); err != nil {
				t.Errorf("AddCost: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := l.Spent(); math.Abs(got-25) > eps {
		t.Errorf("Spent = %v, want 25", got)
	}
}
