package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/evald/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store QueryStore
}

// NewMCPServer creates an MCP server exposing stored evaluations as tools
// and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"evald",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("evald: scored LLM interactions captured from the proxy. Each row has human_* similarity scores and llm_* judge scores from 0 to 5."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_evaluations",
			mcp.WithDescription("List stored evaluations, optionally filtered by substrings of the query or response and sorted by a score column."),
			mcp.WithString("user_query", mcp.Description("Substring to match in the user query")),
			mcp.WithString("llm_response", mcp.Description("Substring to match in the model response")),
			mcp.WithString("sort_field", mcp.Description("id or a score column such as llm_correctness (default id)")),
			mcp.WithString("sort_order", mcp.Description("asc or desc (default asc)")),
			mcp.WithNumber("skip", mcp.Description("Rows to skip (default 0)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of rows (default 10, max 100)")),
		),
		mcpListEvaluations(deps),
	)

	s.AddTool(
		mcp.NewTool("get_evaluation",
			mcp.WithDescription("Fetch one stored evaluation by id."),
			mcp.WithNumber("id", mcp.Description("Evaluation id"), mcp.Required()),
		),
		mcpGetEvaluation(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"evals://recent",
			"Recent Evaluations",
			mcp.WithResourceDescription("Last 10 evaluations with truncated queries and judge correctness"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"evals://stats",
			"Evaluation Stats",
			mcp.WithResourceDescription("Row count and average of every score column"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpListEvaluations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q := storage.Query{
			UserQuery:   req.GetString("user_query", ""),
			LLMResponse: req.GetString("llm_response", ""),
			SortField:   req.GetString("sort_field", ""),
			SortOrder:   req.GetString("sort_order", ""),
			Skip:        req.GetInt("skip", 0),
			Limit:       req.GetInt("limit", storage.DefaultLimit),
		}

		rows, err := deps.Store.ListEvaluations(q)
		if errors.Is(err, storage.ErrInvalidSort) {
			return mcpError(err.Error()), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("listing evaluations failed: %v", err)), nil
		}
		if rows == nil {
			rows = []storage.Evaluation{}
		}

		b, err := json.Marshal(rows)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal evaluations: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetEvaluation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetInt("id", 0)
		if id <= 0 {
			return mcpError("id must be a positive integer"), nil
		}

		row, err := deps.Store.GetEvaluation(int64(id))
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("evaluation %d not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("reading evaluation failed: %v", err)), nil
		}

		b, err := json.Marshal(row)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal evaluation: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rows, err := deps.Store.ListEvaluations(storage.Query{SortField: "id", SortOrder: "desc", Limit: 10})
		if err != nil {
			return nil, fmt.Errorf("failed to get recent evaluations: %w", err)
		}

		type evaluationSummary struct {
			ID          int64   `json:"id"`
			CreatedAt   string  `json:"created_at"`
			Model       string  `json:"model"`
			Query       string  `json:"query"`
			Relevance   float64 `json:"human_relevance"`
			Correctness float64 `json:"llm_correctness"`
		}

		summaries := make([]evaluationSummary, len(rows))
		for i, e := range rows {
			query := e.UserQuery
			if utf8.RuneCountInString(query) > 200 {
				runes := []rune(query)
				query = string(runes[:200]) + "..."
			}
			summaries[i] = evaluationSummary{
				ID:          e.ID,
				CreatedAt:   e.CreatedAt.Format(time.RFC3339),
				Model:       e.Model,
				Query:       query,
				Relevance:   e.Human.Relevance,
				Correctness: e.LLM.Correctness,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal evaluations: %w", err)
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

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st, err := deps.Store.Stats()
		if err != nil {
			return nil, fmt.Errorf("failed to compute stats: %w", err)
		}

		b, err := json.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
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
