package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Chunk is one streamed delta event, tagged with its arrival position.
type Chunk struct {
	Index int
	Data  json.RawMessage
}

type streamDelta struct {
	Content          *string         `json:"content"`
	FunctionCall     json.RawMessage `json:"function_call"`
	ToolCalls        json.RawMessage `json:"tool_calls"`
	ReasoningContent *string         `json:"reasoning_content"`
}

type streamChunk struct {
	Choices []struct {
		Delta streamDelta `json:"delta"`
	} `json:"choices"`
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null")) && !bytes.Equal(raw, []byte("[]"))
}

// plainText reports the text a delta contributes, and false when the delta
// carries a function call, tool calls or reasoning content.
func (d streamDelta) plainText() (string, bool) {
	if present(d.FunctionCall) || present(d.ToolCalls) {
		return "", false
	}
	if d.ReasoningContent != nil && *d.ReasoningContent != "" {
		return "", false
	}
	if d.Content == nil {
		return "", true
	}
	return *d.Content, true
}

// assembleStream concatenates the plain text deltas of chunks, which must be
// numbered 0..n-1 in arrival order. It returns the assembled text and the
// final chunk rewritten into the response envelope: choices[0].content holds
// the full text.
func assembleStream(chunks []Chunk) (string, json.RawMessage, error) {
	if len(chunks) == 0 {
		return "", nil, malformed("stream ended without chunks", nil)
	}

	var b strings.Builder
	for i, c := range chunks {
		if c.Index != i {
			return "", nil, malformed(fmt.Sprintf("chunk %d arrived at position %d", c.Index, i), nil)
		}
		var sc streamChunk
		if err := json.Unmarshal(c.Data, &sc); err != nil {
			return "", nil, malformed(fmt.Sprintf("decoding chunk %d", i), err)
		}
		if len(sc.Choices) == 0 {
			continue
		}
		if text, ok := sc.Choices[0].Delta.plainText(); ok {
			b.WriteString(text)
		}
	}
	text := b.String()

	var final map[string]any
	if err := json.Unmarshal(chunks[len(chunks)-1].Data, &final); err != nil {
		return "", nil, malformed("decoding final chunk", err)
	}
	choices, _ := final["choices"].([]any)
	if len(choices) == 0 {
		choices = []any{map[string]any{"index": 0}}
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		first = map[string]any{"index": 0}
	}
	first["content"] = text
	choices[0] = first
	final["choices"] = choices

	envelope, err := json.Marshal(final)
	if err != nil {
		return "", nil, fmt.Errorf("encoding final chunk: %w", err)
	}
	return text, envelope, nil
}
