package capture

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/evald/internal/evaluation"
)

// Request is the captured side of a model call, as placed on the queue.
// Messages are kept verbatim so the queue carries exactly what the host sent.
type Request struct {
	Model    string            `json:"model"`
	Messages []json.RawMessage `json:"messages"`
	TraceID  string            `json:"litellm_trace_id,omitempty"`
	CallID   string            `json:"litellm_call_id"`
}

// Payload is one queue element.
type Payload struct {
	Request  Request         `json:"request"`
	Response json.RawMessage `json:"response"`
}

// MalformedStreamError reports a call event that cannot be normalized into an
// Interaction: out-of-order or missing stream chunks, or a payload lacking a
// required field.
type MalformedStreamError struct {
	Reason string
	Err    error
}

func (e *MalformedStreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed stream: %s: %v", e.Reason, e.Err)
	}
	return "malformed stream: " + e.Reason
}

func (e *MalformedStreamError) Unwrap() error { return e.Err }

func malformed(reason string, err error) error {
	return &MalformedStreamError{Reason: reason, Err: err}
}

type messageEnvelope struct {
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// messageText extracts the text of an OpenAI-style message content value,
// which is either a string or a list of typed parts. Non-text parts are skipped.
func messageText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("content is neither a string nor a list of parts: %w", err)
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "" || p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String(), nil
}

// lastMessageText returns the text of the final message in the list.
func lastMessageText(messages []json.RawMessage) (string, error) {
	if len(messages) == 0 {
		return "", malformed("request has no messages", nil)
	}
	var m messageEnvelope
	if err := json.Unmarshal(messages[len(messages)-1], &m); err != nil {
		return "", malformed("decoding last message", err)
	}
	text, err := messageText(m.Content)
	if err != nil {
		return "", malformed("last message content", err)
	}
	return text, nil
}

type responseEnvelope struct {
	Choices []struct {
		Content *string `json:"content"`
		Message *struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// responseText returns choices[0].content, falling back to
// choices[0].message.content for plain chat completion responses.
func responseText(raw json.RawMessage) (string, error) {
	var r responseEnvelope
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", malformed("decoding response", err)
	}
	if len(r.Choices) == 0 {
		return "", malformed("response has no choices", nil)
	}
	c := r.Choices[0]
	if c.Content != nil {
		return *c.Content, nil
	}
	if c.Message != nil {
		text, err := messageText(c.Message.Content)
		if err != nil {
			return "", malformed("response message content", err)
		}
		return text, nil
	}
	return "", nil
}

// DecodePayload turns one queue element back into an Interaction. Any
// structural problem is reported as *MalformedStreamError.
func DecodePayload(data []byte) (evaluation.Interaction, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return evaluation.Interaction{}, malformed("decoding payload", err)
	}
	return p.interaction()
}

func (p Payload) interaction() (evaluation.Interaction, error) {
	if p.Request.Model == "" {
		return evaluation.Interaction{}, malformed("request has no model", nil)
	}
	if p.Request.CallID == "" {
		return evaluation.Interaction{}, malformed("request has no litellm_call_id", nil)
	}
	query, err := lastMessageText(p.Request.Messages)
	if err != nil {
		return evaluation.Interaction{}, err
	}
	response, err := responseText(p.Response)
	if err != nil {
		return evaluation.Interaction{}, err
	}
	return evaluation.Interaction{
		SessionID: p.Request.CallID,
		Model:     p.Request.Model,
		Query:     query,
		Response:  response,
	}, nil
}
