package batch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/sift/internal/llm"
)

// mockCompleter is a test double for Completer.
type mockCompleter struct {
	completeFn func(ctx context.Context, req llm.ChatRequest) (json.RawMessage, error)
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.ChatRequest) (json.RawMessage, error) {
	return m.completeFn(ctx, req)
}

func okResponse(content string) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return b
}

// subBatchOf builds requests whose first message content is the request ID.
func subBatchOf(ids ...string) SubBatch {
	sb := SubBatch{}
	for _, id := range ids {
		sb.Requests = append(sb.Requests, Request{
			ID:              id,
			Body:            llm.ChatRequest{Model: "m", Messages: []llm.Message{{Role: "user", Content: id}}},
			EstimatedTokens: 10,
		})
	}
	return sb
}

func TestPoolRun_AllSucceed(t *testing.T) {
	client := &mockCompleter{completeFn: func(_ context.Context, req llm.ChatRequest) (json.RawMessage, error) {
		return okResponse(req.Messages[0].Content), nil
	}}
	p := NewPool(client, PoolConfig{})

	results, failures := p.Run(context.Background(), subBatchOf("a", "b", "c", "d"), "", 2)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}
	seen := map[string]bool{}
	for _, r := range results {
		content, err := llm.CompletionContent(r.Response)
		if err != nil {
			t.Fatalf("CompletionContent: %v", err)
		}
		if content != r.CustomID {
			t.Errorf("result %s carries content %q", r.CustomID, content)
		}
		seen[r.CustomID] = true
	}
	if len(seen) != 4 {
		t.Errorf("distinct ids = %d, want 4", len(seen))
	}
}

func TestPoolRun_FailureIsolated(t *testing.T) {
	client := &mockCompleter{completeFn: func(_ context.Context, req llm.ChatRequest) (json.RawMessage, error) {
		id := req.Messages[0].Content
		if strings.HasPrefix(id, "bad") {
			return nil, errors.New("upstream exploded")
		}
		if id == "panic" {
			panic("boom")
		}
		return okResponse("{}"), nil
	}}
	p := NewPool(client, PoolConfig{})

	results, failures := p.Run(context.Background(), subBatchOf("ok1", "bad1", "ok2", "panic", "bad2", "ok3"), "", 3)
	if len(results) != 3 {
		t.Errorf("results = %d, want 3", len(results))
	}
	if len(failures) != 3 {
		t.Fatalf("failures = %d, want 3", len(failures))
	}
	for _, f := range failures {
		if f.Err == nil {
			t.Errorf("failure %s has nil error", f.CustomID)
		}
	}
}

func TestPoolRun_ConcurrencyBounded(t *testing.T) {
	var inFlight, peak atomic.Int32
	client := &mockCompleter{completeFn: func(_ context.Context, _ llm.ChatRequest) (json.RawMessage, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return okResponse("{}"), nil
	}}
	p := NewPool(client, PoolConfig{})

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	results, _ := p.Run(context.Background(), subBatchOf(ids...), "", 4)

	if len(results) != 20 {
		t.Errorf("results = %d, want 20", len(results))
	}
	if got := peak.Load(); got > 4 {
		t.Errorf("peak concurrency = %d, want <= 4", got)
	}
}

func TestPoolRun_CancelledContextReportsEveryRequest(t *testing.T) {
	client := &mockCompleter{completeFn: func(ctx context.Context, _ llm.ChatRequest) (json.RawMessage, error) {
		return nil, ctx.Err()
	}}
	p := NewPool(client, PoolConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, failures := p.Run(ctx, subBatchOf("a", "b", "c", "d", "e"), "", 2)

	if len(results) != 0 || len(failures) != 5 {
		t.Fatalf("results = %d, failures = %d, want 0 and 5", len(results), len(failures))
	}
	for _, f := range failures {
		if !errors.Is(f.Err, context.Canceled) {
			t.Errorf("failure %s: %v, want context.Canceled", f.CustomID, f.Err)
		}
	}
}

func TestPoolRun_ModelOverride(t *testing.T) {
	var mu sync.Mutex
	var models []string
	client := &mockCompleter{completeFn: func(_ context.Context, req llm.ChatRequest) (json.RawMessage, error) {
		mu.Lock()
		models = append(models, req.Model)
		mu.Unlock()
		return okResponse("{}"), nil
	}}
	p := NewPool(client, PoolConfig{})

	p.Run(context.Background(), subBatchOf("a", "b"), "gpt-4.1", 0)
	for _, m := range models {
		if m != "gpt-4.1" {
			t.Errorf("model = %q, want gpt-4.1", m)
		}
	}
}

func TestPoolRun_Empty(t *testing.T) {
	p := NewPool(&mockCompleter{}, PoolConfig{})
	results, failures := p.Run(context.Background(), SubBatch{}, "", 0)
	if results != nil || failures != nil {
		t.Errorf("expected nil results for empty sub-batch")
	}
}

func TestDefaultConcurrency(t *testing.T) {
	tests := []struct {
		n, floor, ceiling, per, want int
	}{
		{n: 5, floor: 2, ceiling: 16, per: 10, want: 2},
		{n: 45, floor: 2, ceiling: 16, per: 10, want: 5},
		{n: 1000, floor: 2, ceiling: 16, per: 10, want: 16},
		{n: 1, floor: 0, ceiling: 0, per: 10, want: 1},
		{n: 30, floor: 1, ceiling: 0, per: 0, want: 30},
	}
	for _, tt := range tests {
		if got := DefaultConcurrency(tt.n, tt.floor, tt.ceiling, tt.per); got != tt.want {
			t.Errorf("DefaultConcurrency(%d, %d, %d, %d) = %d, want %d", tt.n, tt.floor, tt.ceiling, tt.per, got, tt.want)
		}
	}
}
