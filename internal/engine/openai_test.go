package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newOpenAIServer(t *testing.T, h http.HandlerFunc) *OpenAIEngine {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOpenAIEngine(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", MaxTokens: 16000})
}

func TestOpenAIEngine_Chat(t *testing.T) {
	var got map[string]any
	e := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"judge",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"clarity\":4}"}}]}`))
	})

	out, err := e.Chat(context.Background(), "judge", []Message{{Role: "user", Content: "rate"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"clarity":4}` {
		t.Errorf("Chat = %q", out)
	}
	if got["model"] != "judge" {
		t.Errorf("model = %v, want judge", got["model"])
	}
	if got["max_completion_tokens"] != float64(16000) {
		t.Errorf("max_completion_tokens = %v, want 16000", got["max_completion_tokens"])
	}
	if _, ok := got["response_format"]; ok {
		t.Errorf("response_format = %v, want it omitted without a format", got["response_format"])
	}
}

func TestOpenAIEngine_ChatResponseFormat(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"clarity":{"type":"integer"}},"required":["clarity"]}`)

	tests := []struct {
		name     string
		format   json.RawMessage
		wantType string
	}{
		{"schema", schema, "json_schema"},
		{"json mode", json.RawMessage(`"json"`), "json_object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got struct {
				ResponseFormat struct {
					Type       string `json:"type"`
					JSONSchema struct {
						Name   string         `json:"name"`
						Schema map[string]any `json:"schema"`
					} `json:"json_schema"`
				} `json:"response_format"`
			}
			e := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewDecoder(r.Body).Decode(&got)
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"judge",
					"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{}"}}]}`))
			})

			if _, err := e.Chat(context.Background(), "judge", []Message{{Role: "user", Content: "rate"}}, tt.format); err != nil {
				t.Fatalf("Chat: %v", err)
			}
			if got.ResponseFormat.Type != tt.wantType {
				t.Errorf("response_format.type = %q, want %q", got.ResponseFormat.Type, tt.wantType)
			}
			if tt.wantType == "json_schema" {
				if got.ResponseFormat.JSONSchema.Name == "" {
					t.Error("json_schema.name is empty")
				}
				if got.ResponseFormat.JSONSchema.Schema["type"] != "object" {
					t.Errorf("json_schema.schema = %v", got.ResponseFormat.JSONSchema.Schema)
				}
			}
		})
	}
}

func TestOpenAIEngine_ChatRejectsUnknownFormat(t *testing.T) {
	e := NewOpenAIEngine(OpenAIConfig{BaseURL: "http://127.0.0.1:1/v1/"})
	if _, err := e.Chat(context.Background(), "judge", nil, json.RawMessage(`42`)); err == nil {
		t.Error("Chat with numeric format: expected error")
	}
}

func TestOpenAIEngine_EmbedOrdersByIndex(t *testing.T) {
	e := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","model":"emb","usage":{"prompt_tokens":2,"total_tokens":2},
			"data":[{"object":"embedding","index":1,"embedding":[0,1]},{"object":"embedding","index":0,"embedding":[1,0]}]}`))
	})

	vecs, err := e.Embed(context.Background(), "emb", []string{"query", "response"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("Embed = %v, want [[1 0] [0 1]]", vecs)
	}
}

func TestOpenAIEngine_ListModels(t *testing.T) {
	e := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"id":"judge","object":"model","created":1,"owned_by":"x"}]}`))
	})

	if !e.HasModel(context.Background(), "judge") {
		t.Error("HasModel(judge) = false, want true")
	}
	if e.HasModel(context.Background(), "other") {
		t.Error("HasModel(other) = true, want false")
	}
	if !e.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
}

func TestOpenAIEngine_PullUnsupported(t *testing.T) {
	e := NewOpenAIEngine(OpenAIConfig{BaseURL: "http://127.0.0.1:1/v1/"})
	if err := e.PullModel(context.Background(), "x", nil); !errors.Is(err, ErrPullUnsupported) {
		t.Errorf("PullModel err = %v, want ErrPullUnsupported", err)
	}
}
