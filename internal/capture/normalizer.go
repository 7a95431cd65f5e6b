// Package capture turns intercepted model calls into queued interactions.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"

	"github.com/kalambet/evald/internal/evaluation"
	"github.com/kalambet/evald/internal/metrics"
)

// Queue is the subset of the work queue the normalizer writes to.
type Queue interface {
	Enqueue(ctx context.Context, payload []byte) error
}

// Normalizer builds one Interaction per model call and enqueues its payload.
// Errors are returned to the caller so the host can decide whether the
// original call fails.
type Normalizer struct {
	queue Queue
}

// NewNormalizer creates a Normalizer writing to q.
func NewNormalizer(q Queue) *Normalizer {
	return &Normalizer{queue: q}
}

// CaptureComplete normalizes a non-streamed call and its response object.
func (n *Normalizer) CaptureComplete(ctx context.Context, req Request, response json.RawMessage) (evaluation.Interaction, error) {
	return n.enqueue(ctx, "complete", Payload{Request: req, Response: response})
}

// CaptureStream normalizes a streamed call from all of its chunks, received
// after the stream ended.
func (n *Normalizer) CaptureStream(ctx context.Context, req Request, chunks []Chunk) (evaluation.Interaction, error) {
	_, envelope, err := assembleStream(chunks)
	if err != nil {
		metrics.CaptureFailures.WithLabelValues(failureReason(err)).Inc()
		return evaluation.Interaction{}, err
	}
	return n.enqueue(ctx, "stream", Payload{Request: req, Response: envelope})
}

func (n *Normalizer) enqueue(ctx context.Context, mode string, p Payload) (evaluation.Interaction, error) {
	in, err := p.interaction()
	if err != nil {
		metrics.CaptureFailures.WithLabelValues(failureReason(err)).Inc()
		return evaluation.Interaction{}, err
	}

	data, err := json.Marshal(p)
	if err != nil {
		metrics.CaptureFailures.WithLabelValues("encode").Inc()
		return evaluation.Interaction{}, fmt.Errorf("encoding payload: %w", err)
	}
	if err := n.queue.Enqueue(ctx, data); err != nil {
		metrics.CaptureFailures.WithLabelValues("enqueue").Inc()
		return evaluation.Interaction{}, fmt.Errorf("enqueueing interaction %s: %w", in.SessionID, err)
	}

	metrics.Captured.WithLabelValues(mode).Inc()
	clog.FromContext(ctx).Debug("interaction captured", "session_id", in.SessionID, "model", in.Model, "mode", mode)
	return in, nil
}

func failureReason(err error) string {
	var me *MalformedStreamError
	if errors.As(err, &me) {
		return "malformed"
	}
	return "other"
}
