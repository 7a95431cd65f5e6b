package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/evald/internal/evaluation"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidSort is returned when a query names an unknown sort field or order.
var ErrInvalidSort = errors.New("invalid sort parameter")

// PersistenceError wraps a failed write to the store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// createdAtLayout is the format produced by SQLite's datetime('now').
const createdAtLayout = "2006-01-02 15:04:05"

// Evaluation is one stored row: the interaction plus both score vectors.
type Evaluation struct {
	ID          int64
	SessionID   string
	Model       string
	UserQuery   string
	LLMResponse string
	Human       evaluation.ScoreVector
	LLM         evaluation.ScoreVector
	CreatedAt   time.Time
}

// MarshalJSON renders the row flat, keyed by column name.
func (e Evaluation) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"id":           e.ID,
		"session_id":   e.SessionID,
		"model":        e.Model,
		"user_query":   e.UserQuery,
		"llm_response": e.LLMResponse,
		"created_at":   e.CreatedAt.UTC().Format(createdAtLayout),
	}
	human, llm := e.Human.Values(), e.LLM.Values()
	for i, dim := range evaluation.Dimensions {
		m["human_"+dim] = human[i]
		m["llm_"+dim] = llm[i]
	}
	return json.Marshal(m)
}

// Query selects and orders evaluation rows. Zero values select everything
// ordered by id ascending, first page of DefaultLimit rows.
type Query struct {
	UserQuery   string // substring match on user_query
	LLMResponse string // substring match on llm_response
	SortField   string
	SortOrder   string
	Skip        int
	Limit       int
}

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Stats summarizes the stored rows.
type Stats struct {
	Count int64                  `json:"count"`
	Human evaluation.ScoreVector `json:"human"`
	LLM   evaluation.ScoreVector `json:"llm"`
}

// ScoreColumns returns the sixteen score column names, human first, in
// dimension order.
func ScoreColumns() []string {
	cols := make([]string, 0, 2*len(evaluation.Dimensions))
	for _, d := range evaluation.Dimensions {
		cols = append(cols, "human_"+d)
	}
	for _, d := range evaluation.Dimensions {
		cols = append(cols, "llm_"+d)
	}
	return cols
}

// SortFields returns every accepted Query.SortField value.
func SortFields() []string {
	return append([]string{"id"}, ScoreColumns()...)
}
