// Package worker drains the work queue: each dequeued interaction is
// evaluated and persisted before the next one is taken.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/kalambet/evald/internal/capture"
	"github.com/kalambet/evald/internal/evaluation"
	"github.com/kalambet/evald/internal/metrics"
)

// DefaultPollInterval is the backoff after an empty poll.
const DefaultPollInterval = 50 * time.Millisecond

// MaxErrorBackoff caps the wait between dequeue attempts while the queue is
// unreachable.
const MaxErrorBackoff = 5 * time.Second

// Queue pops one payload or reports that the queue is empty.
type Queue interface {
	DequeueOne(ctx context.Context) ([]byte, bool, error)
}

// Evaluator scores one interaction.
type Evaluator interface {
	Evaluate(ctx context.Context, in evaluation.Interaction) (evaluation.Result, error)
}

// Store appends one scored interaction.
type Store interface {
	InsertEvaluation(in evaluation.Interaction, res evaluation.Result) (int64, error)
}

// Worker processes queued interactions one at a time. A payload that cannot
// be decoded, evaluated or stored is logged and dropped; the loop goes on.
type Worker struct {
	queue     Queue
	evaluator Evaluator
	store     Store
	poll      time.Duration
}

// New creates a Worker. If pollInterval is <= 0, it defaults to 50ms.
func New(q Queue, e Evaluator, s Store, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Worker{queue: q, evaluator: e, store: s, poll: pollInterval}
}

// Run polls the queue until ctx is cancelled. An interaction already
// dequeued when ctx is cancelled is still evaluated and stored.
func (w *Worker) Run(ctx context.Context) {
	log := clog.FromContext(ctx)
	log.Info("worker started", "poll_interval", w.poll)
	defer log.Info("worker stopped")

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		wait := w.poll
		switch {
		case err != nil && ctx.Err() == nil:
			failures++
			wait = errorBackoff(w.poll, failures)
			log.Error("worker iteration failed", "error", err, "failures", failures, "retry_in", wait)
		case err == nil:
			if failures > 0 {
				log.Info("queue reachable again", "after_failures", failures)
			}
			failures = 0
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// errorBackoff doubles poll for each consecutive failure, up to
// MaxErrorBackoff.
func errorBackoff(poll time.Duration, failures int) time.Duration {
	d := poll
	for i := 1; i < failures && d < MaxErrorBackoff; i++ {
		d *= 2
	}
	return min(d, MaxErrorBackoff)
}

// RunOnce dequeues and processes at most one interaction. It returns true
// when a payload was taken off the queue, whether or not it was stored.
// The returned error reports queue failures only.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	data, ok, err := w.queue.DequeueOne(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if !ok {
		return false, nil
	}

	// The payload is off the queue; finish it even if shutdown begins.
	w.process(context.WithoutCancel(ctx), data)
	return true, nil
}

func (w *Worker) process(ctx context.Context, data []byte) {
	log := clog.FromContext(ctx)

	in, err := capture.DecodePayload(data)
	if err != nil {
		log.Warn("dropping malformed payload", "reason", metrics.ReasonMalformed, "error", err, "bytes", len(data))
		metrics.Dropped.WithLabelValues(metrics.ReasonMalformed).Inc()
		return
	}

	log = log.With("session_id", in.SessionID, "model", in.Model)
	ctx = clog.WithLogger(ctx, log)

	start := time.Now()
	res, err := w.evaluator.Evaluate(ctx, in)
	metrics.EvaluationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error("dropping interaction, evaluation failed", "reason", metrics.ReasonEvaluation, "error", err)
		metrics.Dropped.WithLabelValues(metrics.ReasonEvaluation).Inc()
		return
	}

	id, err := w.store.InsertEvaluation(in, res)
	if err != nil {
		log.Error("dropping interaction, persist failed", "reason", metrics.ReasonPersist, "error", err)
		metrics.Dropped.WithLabelValues(metrics.ReasonPersist).Inc()
		return
	}

	metrics.Processed.Inc()
	log.Info("interaction evaluated", "id", id, "relevance", res.Human.Relevance, "duration", time.Since(start))
}
