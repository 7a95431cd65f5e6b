package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/evald/internal/storage"
)

// QueryStore is the read side of the evaluation store.
type QueryStore interface {
	ListEvaluations(q storage.Query) ([]storage.Evaluation, error)
	GetEvaluation(id int64) (storage.Evaluation, error)
	Stats() (storage.Stats, error)
}

// NewQueryHandler returns an http.Handler serving the read-only query
// surface over stored evaluations.
func NewQueryHandler(store QueryStore) http.Handler {
	r := chi.NewRouter()
	r.Use(allowAllOrigins)
	mountQuery(r, store)
	return r
}

func mountQuery(r chi.Router, store QueryStore) {
	r.Get("/health", handleHealth)
	r.Get("/evals", handleListEvals(store))
	r.Get("/evals/stats", handleEvalStats(store))
	r.Get("/evals/{id}", handleGetEval(store))
}

// allowAllOrigins answers preflight requests and marks every response as
// readable from any origin.
func allowAllOrigins(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "ok")
}

func handleListEvals(store QueryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// r.URL.Query drops pairs it cannot parse, which would turn a
		// malformed sort_field into the default instead of a 400.
		qs, err := url.ParseQuery(r.URL.RawQuery)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid query string: %v", err)
			return
		}
		q := storage.Query{
			UserQuery:   qs.Get("user_query"),
			LLMResponse: qs.Get("llm_response"),
			SortField:   qs.Get("sort_field"),
			SortOrder:   qs.Get("sort_order"),
			Skip:        parseIntParam(qs, "skip", 0, 0),
			Limit:       parseIntParam(qs, "limit", storage.DefaultLimit, storage.MaxLimit),
		}
		if q.Limit == 0 {
			// An explicit limit=0 is an empty page; the store reads 0 as "default".
			if err := storage.ValidateSort(q.SortField, q.SortOrder); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			writeJSON(w, http.StatusOK, []storage.Evaluation{})
			return
		}

		rows, err := store.ListEvaluations(q)
		if errors.Is(err, storage.ErrInvalidSort) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing evaluations: %v", err)
			return
		}
		if rows == nil {
			rows = []storage.Evaluation{}
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func handleGetEval(store QueryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "id must be a positive integer")
			return
		}

		row, err := store.GetEvaluation(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "evaluation %d not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading evaluation: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, row)
	}
}

func handleEvalStats(store QueryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := store.Stats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "computing stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func parseIntParam(qs url.Values, key string, defaultVal, maxVal int) int {
	s := qs.Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
