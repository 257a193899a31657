package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/sift/internal/ledger"
	"github.com/kalambet/sift/internal/storage"
)

func newTestMCPDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{
		Store:  setupStore(t),
		Budget: fakeBudget{ledger.Snapshot{Month: "2026-10", Spent: 2.5, Ceiling: 10, Remaining: 7.5}},
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestNewMCPServer(t *testing.T) {
	if s := NewMCPServer(newTestMCPDeps(t), "test"); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_TopPosts(t *testing.T) {
	handler := mcpTopPosts(newTestMCPDeps(t))

	result, err := handler(context.Background(), makeCallToolRequest("top_posts", map[string]interface{}{
		"limit": 1,
		"order": "relevance",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var posts []storage.PostView
	if err := json.Unmarshal([]byte(toolText(t, result)), &posts); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "p2" {
		t.Errorf("posts = %+v", posts)
	}
}

func TestMCPTool_TopPosts_BadOrder(t *testing.T) {
	handler := mcpTopPosts(newTestMCPDeps(t))
	result, err := handler(context.Background(), makeCallToolRequest("top_posts", map[string]interface{}{
		"order": "likes",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown order")
	}
	if !strings.Contains(toolText(t, result), "unknown order") {
		t.Errorf("message = %q", toolText(t, result))
	}
}

func TestMCPTool_PostsByTag(t *testing.T) {
	handler := mcpPostsByTag(newTestMCPDeps(t))

	result, err := handler(context.Background(), makeCallToolRequest("posts_by_tag", map[string]interface{}{
		"tag": "billing",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var posts []storage.PostView
	if err := json.Unmarshal([]byte(toolText(t, result)), &posts); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "p2" {
		t.Errorf("posts = %+v", posts)
	}
}

func TestMCPTool_PostsByTag_MissingTag(t *testing.T) {
	handler := mcpPostsByTag(newTestMCPDeps(t))
	result, err := handler(context.Background(), makeCallToolRequest("posts_by_tag", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error when tag is missing")
	}
}

func TestMCPTool_PipelineStats(t *testing.T) {
	handler := mcpPipelineStats(newTestMCPDeps(t))
	result, err := handler(context.Background(), makeCallToolRequest("pipeline_stats", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out pipelineStats
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if out.Store.Items != 3 || len(out.Runs) != 1 || out.Budget == nil || out.Budget.Remaining != 7.5 {
		t.Errorf("stats = %+v", out)
	}
}

func TestMCPResource_Ledger(t *testing.T) {
	handler := mcpResourceLedger(newTestMCPDeps(t))
	contents, err := handler(context.Background(), makeReadResourceRequest("ledger://current"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var snap ledger.Snapshot
	if err := json.Unmarshal([]byte(tc.Text), &snap); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if snap.Spent != 2.5 || tc.URI != "ledger://current" {
		t.Errorf("snapshot = %+v uri = %s", snap, tc.URI)
	}
}

func TestMCPResource_LedgerMissing(t *testing.T) {
	deps := newTestMCPDeps(t)
	deps.Budget = nil
	if _, err := mcpResourceLedger(deps)(context.Background(), makeReadResourceRequest("ledger://current")); err == nil {
		t.Fatal("expected error without a ledger")
	}
}
