package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/planforge/planforge/internal/evidence"
	"github.com/planforge/planforge/internal/storage"
)

// MCPEvidence abstracts literature retrieval for the MCP layer.
type MCPEvidence interface {
	Search(ctx context.Context, query string, limit int) evidence.Result
}

// MCPStore is the read surface MCP resources need.
type MCPStore interface {
	GetRecentRuns(limit int) ([]storage.Run, error)
	LatestPlanSnapshot(runID, status string) (storage.PlanSnapshot, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    MCPStore
	Evidence MCPEvidence    // optional; if nil, search_evidence reports unavailable
	Library  LibraryService // optional; if nil, library_search reports unavailable
}

// NewMCPServer creates an MCP server exposing evidence search, library
// search and plan inspection to agent clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"planforge",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("planforge — research planning backend: theme discovery, literature evidence, and plan drafting."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_evidence",
			mcp.WithDescription("Search scholarly literature sources for evidence on a research topic."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchEvidence(deps),
	)

	s.AddTool(
		mcp.NewTool("library_search",
			mcp.WithDescription("Semantically search ingested reference documents."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of chunks (default 5)")),
		),
		mcpLibrarySearch(deps),
	)

	s.AddTool(
		mcp.NewTool("latest_plan",
			mcp.WithDescription("Fetch the most recent plan document snapshot for a run."),
			mcp.WithString("run_id", mcp.Description("Run identifier"), mcp.Required()),
		),
		mcpLatestPlan(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"planforge://runs/recent",
			"Recent Runs",
			mcp.WithResourceDescription("Last 10 workflow runs with status"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentRuns(deps),
	)

	return s
}

func mcpSearchEvidence(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Evidence == nil {
			return mcpError("evidence search not available: no sources configured"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", 5)

		res := deps.Evidence.Search(ctx, query, limit)
		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpLibrarySearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Library == nil {
			return mcpError("library search not available"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", 5)

		hits, err := deps.Library.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("library search failed: %v", err)), nil
		}
		if len(hits) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpLatestPlan(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, err := req.RequireString("run_id")
		if err != nil {
			return mcpError("run_id is required"), nil
		}

		snap, err := deps.Store.LatestPlanSnapshot(runID, "")
		if err == storage.ErrNotFound {
			return mcpError(fmt.Sprintf("no plan snapshot for run %s", runID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("loading snapshot failed: %v", err)), nil
		}
		return mcpText(snap.Document), nil
	}
}

func mcpResourceRecentRuns(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := deps.Store.GetRecentRuns(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}

		type runSummary struct {
			ID            string `json:"id"`
			Kind          string `json:"kind"`
			Status        string `json:"status"`
			SuspendReason string `json:"suspend_reason,omitempty"`
			StartedAt     string `json:"started_at"`
		}
		summaries := make([]runSummary, len(runs))
		for i, r := range runs {
			summaries[i] = runSummary{
				ID:            r.ID,
				Kind:          r.Kind,
				Status:        r.Status,
				SuspendReason: r.SuspendReason,
				StartedAt:     r.StartedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal runs: %w", err)
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
