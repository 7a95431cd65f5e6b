package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIEngine talks to any server exposing the OpenAI chat completions and
// embeddings endpoints, e.g. a LiteLLM proxy in front of hosted models.
type OpenAIEngine struct {
	client    openai.Client
	maxTokens int64
}

// OpenAIConfig holds the connection settings for an OpenAIEngine.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	// MaxTokens caps judge completions. Zero leaves the server default.
	MaxTokens int64
}

// NewOpenAIEngine creates an OpenAIEngine for the given server.
func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	opts := []option.RequestOption{option.WithBaseURL(cfg.BaseURL)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	return &OpenAIEngine{
		client:    openai.NewClient(opts...),
		maxTokens: cfg.MaxTokens,
	}
}

// Chat sends format as response_format: a JSON schema object becomes a
// json_schema format and the string "json" becomes json_object. Servers that
// ignore it may still reply with prose, so callers must parse leniently.
func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, format json.RawMessage) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}
	if e.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(e.maxTokens)
	}
	rf, ok, err := responseFormat(format)
	if err != nil {
		return "", err
	}
	if ok {
		params.ResponseFormat = rf
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func responseFormat(format json.RawMessage) (openai.ChatCompletionNewParamsResponseFormatUnion, bool, error) {
	var none openai.ChatCompletionNewParamsResponseFormatUnion
	if len(format) == 0 {
		return none, false, nil
	}
	var v any
	if err := json.Unmarshal(format, &v); err != nil {
		return none, false, fmt.Errorf("decoding response format: %w", err)
	}
	switch f := v.(type) {
	case string:
		if f != "json" {
			return none, false, fmt.Errorf("unsupported response format %q", f)
		}
		return openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}, true, nil
	case map[string]any:
		return openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "response",
					Schema: f,
				},
			},
		}, true, nil
	default:
		return none, false, fmt.Errorf("unsupported response format %s", format)
	}
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("embeddings: index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	return out, nil
}

func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := e.ListModels(ctx)
	return err == nil
}

func (e *OpenAIEngine) ListModels(ctx context.Context) ([]string, error) {
	page, err := e.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	names := make([]string, len(page.Data))
	for i, m := range page.Data {
		names[i] = m.ID
	}
	return names, nil
}

func (e *OpenAIEngine) HasModel(ctx context.Context, name string) bool {
	models, err := e.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m == name {
			return true
		}
	}
	return false
}

func (e *OpenAIEngine) PullModel(_ context.Context, name string, _ func(PullProgress)) error {
	return fmt.Errorf("pull %s: %w", name, ErrPullUnsupported)
}
