package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/evald/internal/evaluation"
	"github.com/kalambet/evald/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store *storage.Store, query, response string, correctness float64) int64 {
	t.Helper()
	id, err := store.InsertEvaluation(
		evaluation.Interaction{SessionID: "sess-" + query, Model: "gpt-4o-mini", Query: query, Response: response},
		evaluation.Result{
			Human: evaluation.ScoreVector{Relevance: 4},
			LLM:   evaluation.ScoreVector{Clarity: 3, Correctness: correctness},
		},
	)
	if err != nil {
		t.Fatalf("seeding evaluation: %v", err)
	}
	return id
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("empty result content")
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

// --- tests ---

func TestMCPTool_ListEvaluations_Filter(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "foo", "first answer", 5)
	seed(t, store, "bar", "second answer", 1)

	handler := mcpListEvaluations(MCPDeps{Store: store})
	result, err := handler(context.Background(), makeCallToolRequest("list_evaluations", map[string]interface{}{
		"user_query": "foo",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}

	var rows []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &rows); err != nil {
		t.Fatalf("failed to parse rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0]["user_query"] != "foo" {
		t.Errorf("user_query = %v, want foo", rows[0]["user_query"])
	}
}

func TestMCPTool_ListEvaluations_SortDesc(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "low", "a", 1)
	seed(t, store, "high", "b", 5)

	handler := mcpListEvaluations(MCPDeps{Store: store})
	result, err := handler(context.Background(), makeCallToolRequest("list_evaluations", map[string]interface{}{
		"sort_field": "llm_correctness",
		"sort_order": "desc",
		"limit":      float64(1),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rows []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &rows); err != nil {
		t.Fatalf("failed to parse rows: %v", err)
	}
	if len(rows) != 1 || rows[0]["user_query"] != "high" {
		t.Errorf("rows = %v, want only the high-correctness row", rows)
	}
}

func TestMCPTool_ListEvaluations_InvalidSort(t *testing.T) {
	store := newTestStore(t)

	handler := mcpListEvaluations(MCPDeps{Store: store})
	result, err := handler(context.Background(), makeCallToolRequest("list_evaluations", map[string]interface{}{
		"sort_field": "dropTable",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_ListEvaluations_EmptyIsArray(t *testing.T) {
	handler := mcpListEvaluations(MCPDeps{Store: newTestStore(t)})
	result, err := handler(context.Background(), makeCallToolRequest("list_evaluations", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != "[]" {
		t.Errorf("text = %q, want []", got)
	}
}

func TestMCPTool_GetEvaluation(t *testing.T) {
	store := newTestStore(t)
	id := seed(t, store, "What is Go?", "A language.", 4)

	handler := mcpGetEvaluation(MCPDeps{Store: store})
	result, err := handler(context.Background(), makeCallToolRequest("get_evaluation", map[string]interface{}{
		"id": float64(id),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), `"llm_correctness":4`) {
		t.Errorf("text = %q, want llm_correctness 4", toolText(t, result))
	}
}

func TestMCPTool_GetEvaluation_NotFound(t *testing.T) {
	handler := mcpGetEvaluation(MCPDeps{Store: newTestStore(t)})
	result, err := handler(context.Background(), makeCallToolRequest("get_evaluation", map[string]interface{}{
		"id": float64(42),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("text = %q, want not found", toolText(t, result))
	}
}

func TestMCPTool_GetEvaluation_MissingID(t *testing.T) {
	handler := mcpGetEvaluation(MCPDeps{Store: newTestStore(t)})
	result, err := handler(context.Background(), makeCallToolRequest("get_evaluation", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPResource_Recent(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, strings.Repeat("é", 250), "long", 2)
	seed(t, store, "newest", "short", 3)

	handler := mcpResourceRecent(MCPDeps{Store: store})
	contents, err := handler(context.Background(), makeReadResourceRequest("evals://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var summaries []struct {
		ID    int64  `json:"id"`
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &summaries); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 evaluations, got %d", len(summaries))
	}
	if summaries[0].Query != "newest" {
		t.Errorf("first query = %q, want newest first", summaries[0].Query)
	}
	if want := strings.Repeat("é", 200) + "..."; summaries[1].Query != want {
		t.Errorf("long query not truncated to 200 runes: len %d", len([]rune(summaries[1].Query)))
	}
}

func TestMCPResource_Stats(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "a", "x", 2)
	seed(t, store, "b", "y", 4)

	handler := mcpResourceStats(MCPDeps{Store: store})
	contents, err := handler(context.Background(), makeReadResourceRequest("evals://stats"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tc := contents[0].(mcp.TextResourceContents)
	var st storage.Stats
	if err := json.Unmarshal([]byte(tc.Text), &st); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if st.Count != 2 {
		t.Errorf("Count = %d, want 2", st.Count)
	}
	if st.LLM.Correctness != 3 {
		t.Errorf("LLM.Correctness = %v, want 3", st.LLM.Correctness)
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		seed(t, store, "q", "r", float64(i))
	}
	handler := mcpListEvaluations(MCPDeps{Store: store})

	var wg sync.WaitGroup
	errs := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := handler(context.Background(), makeCallToolRequest("list_evaluations", nil))
			if err != nil {
				errs <- err.Error()
				return
			}
			if result.IsError {
				errs <- "error result"
			}
		}()
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Errorf("concurrent call failed: %s", e)
	}
}
