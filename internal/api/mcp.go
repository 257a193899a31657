package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/sift/internal/ledger"
	"github.com/kalambet/sift/internal/storage"
)

// NewMCPServer creates an MCP server exposing the report queries as tools
// and the budget as a resource.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"sift",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("sift scores community posts for product pain points. Use the tools to read the highest-value posts and pipeline state."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("top_posts",
			mcp.WithDescription("List the highest-scoring posts, most valuable first."),
			mcp.WithNumber("days", mcp.Description("Only posts created in the last N days (default all)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of posts (default 10)")),
			mcp.WithString("order", mcp.Description("Sort key: roi, relevance, emotion, pain, composite or processed")),
		),
		mcpTopPosts(deps),
	)

	s.AddTool(
		mcp.NewTool("posts_by_tag",
			mcp.WithDescription("List posts carrying a topic tag assigned during deep insight."),
			mcp.WithString("tag", mcp.Description("Tag to match, case-insensitive"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of posts (default 10)")),
		),
		mcpPostsByTag(deps),
	)

	s.AddTool(
		mcp.NewTool("pipeline_stats",
			mcp.WithDescription("Store counts, average scores, recent runs and the monthly budget."),
		),
		mcpPipelineStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"ledger://current",
			"Monthly Budget",
			mcp.WithResourceDescription("Spend, ceiling and remaining budget for the current month"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceLedger(deps),
	)

	return s
}

func mcpTopPosts(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := topQuery(
			req.GetInt("days", 0),
			req.GetInt("limit", defaultLimit),
			req.GetString("order", ""),
			time.Now().UTC(),
		)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		posts, err := deps.Store.TopPosts(q)
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}
		if posts == nil {
			posts = []storage.PostView{}
		}
		return mcpJSON(posts)
	}
}

func mcpPostsByTag(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tag, err := req.RequireString("tag")
		if err != nil || tag == "" {
			return mcpError("tag is required"), nil
		}
		limit := req.GetInt("limit", defaultLimit)
		if limit <= 0 || limit > maxLimit {
			limit = defaultLimit
		}
		posts, err := deps.Store.PostsByTag(tag, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}
		if posts == nil {
			posts = []storage.PostView{}
		}
		return mcpJSON(posts)
	}
}

type pipelineStats struct {
	Store  storage.Stats    `json:"store"`
	Runs   []storage.Run    `json:"runs"`
	Budget *ledger.Snapshot `json:"budget,omitempty"`
}

func mcpPipelineStats(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var out pipelineStats
		var err error
		if out.Store, err = deps.Store.Stats(); err != nil {
			return mcpError(fmt.Sprintf("stats failed: %v", err)), nil
		}
		if out.Runs, err = deps.Store.ListRuns(5); err != nil {
			return mcpError(fmt.Sprintf("listing runs failed: %v", err)), nil
		}
		if out.Runs == nil {
			out.Runs = []storage.Run{}
		}
		if deps.Budget != nil {
			snap := deps.Budget.Snapshot()
			out.Budget = &snap
		}
		return mcpJSON(out)
	}
}

func mcpResourceLedger(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if deps.Budget == nil {
			return nil, fmt.Errorf("ledger not configured")
		}
		b, err := json.Marshal(deps.Budget.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal ledger: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
