package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kalambet/evald/internal/proxy"
	"github.com/kalambet/evald/internal/storage"
)

func getJSON(t *testing.T, h http.Handler, target string, v any) int {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	if v != nil && rr.Code == http.StatusOK {
		if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
			t.Fatalf("decoding %s: %v", target, err)
		}
	}
	return rr.Code
}

func TestHealth(t *testing.T) {
	h := NewQueryHandler(newTestStore(t))

	var body string
	if code := getJSON(t, h, "/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if body != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
}

func TestListEvals_FilterByQuery(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "foo", "answer one", 5)
	seed(t, store, "bar", "answer two", 3)
	h := NewQueryHandler(store)

	var rows []map[string]any
	if code := getJSON(t, h, "/evals?user_query=foo", &rows); code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0]["user_query"] != "foo" {
		t.Errorf("user_query = %v, want foo", rows[0]["user_query"])
	}
	for _, key := range append(storage.ScoreColumns(), "id", "session_id", "model", "llm_response", "created_at") {
		if _, ok := rows[0][key]; !ok {
			t.Errorf("row missing column %q", key)
		}
	}
}

func TestListEvals_InvalidSortRejected(t *testing.T) {
	h := NewQueryHandler(newTestStore(t))

	tests := []string{
		"/evals?sort_field=dropTable",
		"/evals?sort_field=id;DROP%20TABLE%20evaluation",
		"/evals?sort_order=sideways",
		"/evals?sort_order=ASC",
		"/evals?sort_field=bogus&limit=0",
	}
	for _, target := range tests {
		if code := getJSON(t, h, target, nil); code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want %d", target, code, http.StatusBadRequest)
		}
	}
}

func TestListEvals_SortAndPaginate(t *testing.T) {
	store := newTestStore(t)
	for i := 1; i <= 5; i++ {
		seed(t, store, fmt.Sprintf("q%d", i), "r", float64(i))
	}
	h := NewQueryHandler(store)

	var rows []map[string]any
	getJSON(t, h, "/evals?sort_field=llm_correctness&sort_order=desc&skip=1&limit=2", &rows)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0]["user_query"] != "q4" || rows[1]["user_query"] != "q3" {
		t.Errorf("page = %v, %v; want q4, q3", rows[0]["user_query"], rows[1]["user_query"])
	}
}

func TestListEvals_DefaultLimit(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < storage.DefaultLimit+3; i++ {
		seed(t, store, "q", "r", 1)
	}
	h := NewQueryHandler(store)

	var rows []map[string]any
	getJSON(t, h, "/evals", &rows)
	if len(rows) != storage.DefaultLimit {
		t.Errorf("got %d rows, want %d", len(rows), storage.DefaultLimit)
	}
}

func TestListEvals_ZeroLimitIsEmptyPage(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 3; i++ {
		seed(t, store, "q", "r", 1)
	}
	h := NewQueryHandler(store)

	var rows []map[string]any
	if code := getJSON(t, h, "/evals?limit=0", &rows); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows, want 0", len(rows))
	}
}

func TestListEvals_EmptyIsArray(t *testing.T) {
	h := NewQueryHandler(newTestStore(t))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/evals", nil))
	if got := rr.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestGetEval(t *testing.T) {
	store := newTestStore(t)
	id := seed(t, store, "What is Go?", "A language.", 4)
	h := NewQueryHandler(store)

	var row map[string]any
	if code := getJSON(t, h, fmt.Sprintf("/evals/%d", id), &row); code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if row["llm_correctness"] != 4.0 {
		t.Errorf("llm_correctness = %v, want 4", row["llm_correctness"])
	}

	if code := getJSON(t, h, "/evals/999", nil); code != http.StatusNotFound {
		t.Errorf("missing id status = %d, want %d", code, http.StatusNotFound)
	}
	if code := getJSON(t, h, "/evals/abc", nil); code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want %d", code, http.StatusBadRequest)
	}
}

func TestEvalStats(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "a", "x", 1)
	seed(t, store, "b", "y", 5)
	h := NewQueryHandler(store)

	var st storage.Stats
	if code := getJSON(t, h, "/evals/stats", &st); code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if st.Count != 2 || st.LLM.Correctness != 3 || st.Human.Relevance != 4 {
		t.Errorf("stats = %+v", st)
	}
}

func TestQuery_CORSPreflight(t *testing.T) {
	h := NewQueryHandler(newTestStore(t))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/evals", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestRouter_MountsAllSurfaces(t *testing.T) {
	_, c := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(proxy.ModelList{Object: "list"})
	})
	h := NewRouter(RouterDeps{Upstream: c, Store: newTestStore(t)})

	for _, target := range []string{"/health", "/evals", "/evals/stats", "/v1/models", "/metrics"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", target, rr.Code, http.StatusOK)
		}
	}
}
