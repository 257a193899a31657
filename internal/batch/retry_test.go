package batch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// mockRunner is a test double for Runner.
type mockRunner struct {
	calls atomic.Int32
	runFn func(attempt int, sb SubBatch) ([]Result, []Failure)
}

func (m *mockRunner) Run(_ context.Context, sb SubBatch, _ string, _ int) ([]Result, []Failure) {
	return m.runFn(int(m.calls.Add(1)), sb)
}

func allFail(_ int, sb SubBatch) ([]Result, []Failure) {
	var f []Failure
	for _, r := range sb.Requests {
		f = append(f, Failure{CustomID: r.ID, Err: errors.New("503")})
	}
	return nil, f
}

func allSucceed(_ int, sb SubBatch) ([]Result, []Failure) {
	var out []Result
	for _, r := range sb.Requests {
		out = append(out, Result{CustomID: r.ID, Response: okResponse(`{"relevance_score":7}`)})
	}
	return out, nil
}

func newTestCoordinator(t *testing.T, runner Runner, maxRetries int) (*Coordinator, *[]time.Duration) {
	t.Helper()
	dir := t.TempDir()
	files := NewFiles(filepath.Join(dir, "results"), filepath.Join(dir, "deferred"))
	c := NewCoordinator(runner, RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Second,
		MaxDelay:     3 * time.Second,
	}, files)

	var sleeps []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return c, &sleeps
}

func fileLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestProcess_ExhaustionDefers(t *testing.T) {
	runner := &mockRunner{runFn: allFail}
	c, sleeps := newTestCoordinator(t, runner, 4)
	sb := subBatchOf("a", "b", "c", "d", "e")

	out := c.Process(context.Background(), "filter", sb, "")

	if out.State != StateDeferred {
		t.Fatalf("State = %v, want DEFERRED", out.State)
	}
	if out.ResultPath != "" {
		t.Errorf("ResultPath = %q, want empty", out.ResultPath)
	}
	if got := runner.calls.Load(); got != 4 {
		t.Errorf("attempts = %d, want exactly 4", got)
	}
	if out.Attempts != 4 {
		t.Errorf("Outcome.Attempts = %d, want 4", out.Attempts)
	}
	if !errors.Is(out.LastErr, ErrSubBatchFailed) {
		t.Errorf("LastErr = %v, want ErrSubBatchFailed", out.LastErr)
	}

	lines := fileLines(t, out.DeferredPath)
	if len(lines) != sb.Len() {
		t.Fatalf("deferred lines = %d, want %d", len(lines), sb.Len())
	}
	var first deferredLine
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decoding deferred line: %v", err)
	}
	if first.CustomID != "a" || first.Method != "POST" || first.URL != "/v1/chat/completions" || first.Body.Model != "m" {
		t.Errorf("unexpected deferred payload: %+v", first)
	}

	// Backoff doubles and is capped: 1s, 2s, 3s.
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *sleeps, want)
	}
	for i := range want {
		if (*sleeps)[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, (*sleeps)[i], want[i])
		}
	}
}

func TestProcess_SucceedsAfterRetry(t *testing.T) {
	runner := &mockRunner{runFn: func(attempt int, sb SubBatch) ([]Result, []Failure) {
		if attempt == 1 {
			res, _ := allSucceed(attempt, sb)
			return res[:1], []Failure{{CustomID: sb.Requests[1].ID, Err: errors.New("timeout")}}
		}
		return allSucceed(attempt, sb)
	}}
	c, sleeps := newTestCoordinator(t, runner, 3)

	out := c.Process(context.Background(), "insight", subBatchOf("x", "y"), "")

	if out.State != StateComplete {
		t.Fatalf("State = %v, want COMPLETE", out.State)
	}
	if out.Attempts != 2 || len(*sleeps) != 1 {
		t.Errorf("attempts = %d sleeps = %d, want 2 and 1", out.Attempts, len(*sleeps))
	}
	if out.DeferredPath != "" {
		t.Errorf("DeferredPath = %q, want empty", out.DeferredPath)
	}

	results, err := ReadResults(out.ResultPath)
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("results in file = %d, want 2 (full resubmission)", len(results))
	}
}

func TestProcess_FirstAttemptSuccess(t *testing.T) {
	runner := &mockRunner{runFn: allSucceed}
	c, sleeps := newTestCoordinator(t, runner, 3)

	out := c.Process(context.Background(), "filter", subBatchOf("a"), "")
	if out.State != StateComplete || out.Attempts != 1 || len(*sleeps) != 0 {
		t.Errorf("outcome = %+v, sleeps = %v", out, *sleeps)
	}
	if !strings.HasPrefix(filepath.Base(out.ResultPath), "filter-") {
		t.Errorf("result file %q should be prefixed with the stage", out.ResultPath)
	}
}

func TestProcess_CancelledContextDefers(t *testing.T) {
	runner := &mockRunner{runFn: allFail}
	c, _ := newTestCoordinator(t, runner, 5)
	c.sleep = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := c.Process(ctx, "filter", subBatchOf("a", "b"), "")

	if out.State != StateDeferred {
		t.Fatalf("State = %v, want DEFERRED", out.State)
	}
	if runner.calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1 before cancellation", runner.calls.Load())
	}
	if len(fileLines(t, out.DeferredPath)) != 2 {
		t.Error("deferred file should hold both requests")
	}
}

func TestReadResults_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.jsonl")
	content := `{"custom_id":"a","response":{"choices":[]}}
not json at all
{"response":{}}

{"custom_id":"b","response":{"choices":[]}}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	results, err := ReadResults(path)
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	if len(results) != 2 || results[0].CustomID != "a" || results[1].CustomID != "b" {
		t.Errorf("results = %+v, want a and b", results)
	}
}

func TestListDeferred(t *testing.T) {
	dir := t.TempDir()
	files := NewFiles(filepath.Join(dir, "r"), filepath.Join(dir, "d"))
	if _, err := files.WriteDeferred("filter", subBatchOf("a", "b", "c")); err != nil {
		t.Fatal(err)
	}

	list, err := ListDeferred(files.DeferredDir)
	if err != nil {
		t.Fatalf("ListDeferred: %v", err)
	}
	if len(list) != 1 || list[0].Requests != 3 {
		t.Errorf("list = %+v, want one file with 3 requests", list)
	}
}

func TestStateString(t *testing.T) {
	if StateDeferred.String() != "DEFERRED" || StatePending.String() != "PENDING" {
		t.Error("unexpected state names")
	}
}
