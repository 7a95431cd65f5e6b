package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/evald/internal/capture"
	"github.com/kalambet/evald/internal/evaluation"
	"github.com/kalambet/evald/internal/metrics"
	"github.com/kalambet/evald/internal/proxy"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Headers carrying the call identifiers, as set by LiteLLM clients.
const (
	headerCallID  = "X-Litellm-Call-Id"
	headerTraceID = "X-Litellm-Trace-Id"
)

// Capturer receives every completed call. *capture.Normalizer implements it.
type Capturer interface {
	CaptureComplete(ctx context.Context, req capture.Request, response json.RawMessage) (evaluation.Interaction, error)
	CaptureStream(ctx context.Context, req capture.Request, chunks []capture.Chunk) (evaluation.Interaction, error)
}

// NewOpenAIHandler returns an http.Handler implementing the OpenAI-compatible
// REST API in front of the upstream. When capturer is non-nil, every
// successful call is handed to it after the response is relayed. Passing nil
// disables capture (passthrough mode).
func NewOpenAIHandler(p *proxy.Client, capturer Capturer) http.Handler {
	r := chi.NewRouter()
	mountOpenAI(r, p, capturer)
	return r
}

func mountOpenAI(r chi.Router, p *proxy.Client, capturer Capturer) {
	r.Get("/v1/models", handleModels(p))
	r.Post("/v1/chat/completions", handleChatCompletions(p, capturer))
}

func handleModels(p *proxy.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models, err := p.ListModels(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to list models: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(proxy.ModelList{
			Object: "list",
			Data:   models,
		})
	}
}

func handleChatCompletions(p *proxy.Client, capturer Capturer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req proxy.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var messages []json.RawMessage
		if err := json.Unmarshal(req.Messages, &messages); err != nil || len(messages) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages is required and must not be empty")
			return
		}

		capReq := captureRequest(r, &req, messages)
		w.Header().Set(headerCallID, capReq.CallID)

		rc, err := p.Chat(r.Context(), req)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "upstream error: %v", err)
			return
		}
		defer rc.Close()

		// Capture outlives the client connection.
		captureCtx := context.WithoutCancel(r.Context())

		if req.Stream {
			chunks, ok := streamResponse(w, rc)
			if !ok || capturer == nil {
				return
			}
			if _, err := capturer.CaptureStream(captureCtx, capReq, chunks); err != nil {
				slog.Error("stream capture failed", "call_id", capReq.CallID, "error", err)
				writeStreamError(w, "capture_error", fmt.Sprintf("capture failed: %v", err))
			}
			return
		}

		body, err := io.ReadAll(rc)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "reading upstream response: %v", err)
			return
		}
		if capturer != nil {
			if _, err := capturer.CaptureComplete(captureCtx, capReq, body); err != nil {
				slog.Error("capture failed", "call_id", capReq.CallID, "error", err)
				httpError(w, http.StatusBadGateway, "capture_error", "capture failed: %v", err)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

// captureRequest builds the queued request half and strips the LiteLLM
// identifiers from the body forwarded upstream. Headers win over body fields.
func captureRequest(r *http.Request, req *proxy.ChatRequest, messages []json.RawMessage) capture.Request {
	callID := req.TakeString("litellm_call_id")
	traceID := req.TakeString("litellm_trace_id")
	if h := r.Header.Get(headerCallID); h != "" {
		callID = h
	}
	if h := r.Header.Get(headerTraceID); h != "" {
		traceID = h
	}
	if callID == "" {
		callID = uuid.NewString()
	}
	if traceID == "" {
		traceID = callID
	}
	return capture.Request{
		Model:    req.Model,
		Messages: messages,
		TraceID:  traceID,
		CallID:   callID,
	}
}

var (
	sseData = []byte("data:")
	sseDone = []byte("[DONE]")
)

// streamResponse relays upstream SSE lines as they arrive and collects the
// JSON data events in arrival order. ok is false when the upstream stream
// broke off before ending.
func streamResponse(w http.ResponseWriter, rc io.Reader) (chunks []capture.Chunk, ok bool) {
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	reader := bufio.NewReader(rc)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			w.Write(line)
			flusher.Flush()

			trimmed := bytes.TrimSpace(line)
			if data, found := bytes.CutPrefix(trimmed, sseData); found {
				data = bytes.TrimSpace(data)
				if len(data) > 0 && !bytes.Equal(data, sseDone) {
					chunks = append(chunks, capture.Chunk{Index: len(chunks), Data: bytes.Clone(data)})
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				slog.Error("upstream stream read error", "error", err)
				metrics.CaptureFailures.WithLabelValues("stream_interrupted").Inc()
				writeStreamError(w, "server_error", "upstream read error")
				return chunks, false
			}
			return chunks, true
		}
	}
}

func writeStreamError(w http.ResponseWriter, errType, msg string) {
	errPayload, err := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
	if err != nil {
		slog.Error("failed to marshal stream error payload", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", errPayload)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
