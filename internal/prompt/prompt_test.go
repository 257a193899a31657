package prompt

import (
	"strings"
	"testing"

	"github.com/kalambet/sift/internal/storage"
	"github.com/kalambet/sift/internal/tokens"
)

func testBuilder() *Builder {
	return NewBuilder("", tokens.New(tokens.DefaultFallbackEncoding, tokens.DefaultEstimate), 0)
}

func TestFilterRequest(t *testing.T) {
	b := testBuilder()
	item := storage.Item{ID: "p1", Title: "Cron jobs keep failing", Body: "Our nightly jobs silently die.", Group: "devops"}

	req := b.Filter(item, "gpt-4.1-mini")

	if req.ID != "p1" {
		t.Errorf("ID = %q, want p1", req.ID)
	}
	if req.Body.Model != "gpt-4.1-mini" {
		t.Errorf("Model = %q", req.Body.Model)
	}
	if req.Body.ResponseFormat == nil || req.Body.ResponseFormat.Type != "json_object" {
		t.Errorf("ResponseFormat = %+v, want json_object", req.Body.ResponseFormat)
	}
	if len(req.Body.Messages) != 2 || req.Body.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", req.Body.Messages)
	}
	user := req.Body.Messages[1].Content
	for _, want := range []string{"Cron jobs keep failing", "silently die", DefaultProduct, "relevance_score"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
	if req.EstimatedTokens <= 0 {
		t.Errorf("EstimatedTokens = %d, want > 0", req.EstimatedTokens)
	}
	if req.Meta["stage"] != StageFilter || req.Meta["group"] != "devops" {
		t.Errorf("Meta = %v", req.Meta)
	}
}

func TestInsightUsesProduct(t *testing.T) {
	b := NewBuilder("a log search tool", nil, 0)
	req := b.Insight(storage.Item{ID: "p1", Title: "t", Body: "b"}, "gpt-4.1")

	user := req.Body.Messages[1].Content
	if !strings.Contains(user, "a log search tool") {
		t.Error("insight prompt does not contain product description")
	}
	if !strings.Contains(user, "roi_weight") {
		t.Error("insight prompt does not describe roi_weight")
	}
}

func TestBodyTruncated(t *testing.T) {
	b := NewBuilder("", nil, 10)
	long := strings.Repeat("word ", 1000)

	short := b.Filter(storage.Item{ID: "a", Title: "t", Body: "word"}, "gpt-4")
	capped := b.Filter(storage.Item{ID: "b", Title: "t", Body: long}, "gpt-4")

	if capped.EstimatedTokens-short.EstimatedTokens > 20 {
		t.Errorf("body not truncated: %d vs %d tokens", capped.EstimatedTokens, short.EstimatedTokens)
	}
}

func TestClusterRequest(t *testing.T) {
	b := testBuilder()
	req := b.Cluster("thread1", []string{"jobs fail silently", " ", "no retries"}, "gpt-4.1")

	user := req.Body.Messages[1].Content
	if !strings.Contains(user, "- jobs fail silently\n- no retries") {
		t.Errorf("cluster prompt = %q", user)
	}
	if req.ID != "thread1" || req.Meta["stage"] != StageCluster {
		t.Errorf("ID = %q Meta = %v", req.ID, req.Meta)
	}
}

func TestDiscoveryRequest(t *testing.T) {
	b := testBuilder()
	req := b.Discovery([]string{"devops", "sysadmin"}, nil, 12, "gpt-4.1")

	user := req.Body.Messages[1].Content
	if !strings.Contains(user, "devops, sysadmin") {
		t.Error("discovery prompt missing monitored groups")
	}
	if !strings.Contains(user, "none recorded yet") {
		t.Error("discovery prompt missing empty pain point marker")
	}
	if !strings.Contains(user, "up to 12") {
		t.Error("discovery prompt missing limit")
	}
}
