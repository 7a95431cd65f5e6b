// Package judge scores an interaction with a language model acting as a
// grader over an eight-dimension rubric.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/invopop/jsonschema"

	"github.com/kalambet/evald/internal/engine"
	"github.com/kalambet/evald/internal/evaluation"
	"github.com/kalambet/evald/internal/metrics"
)

const judgeTimeout = 5 * time.Minute

// Chatter is the chat half of engine.Engine.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, format json.RawMessage) (string, error)
}

// Judge asks a model to grade a response. It never fails: a backend error,
// an empty reply or a reply that does not parse into all eight scores
// yields the all-zero vector.
type Judge struct {
	client Chatter
	model  string
}

// New creates a Judge using the given chat client and model name.
func New(client Chatter, model string) *Judge {
	return &Judge{client: client, model: model}
}

// Evaluate implements evaluation.Evaluator. The returned error is always nil.
func (j *Judge) Evaluate(ctx context.Context, query, response string) (evaluation.ScoreVector, error) {
	log := clog.FromContext(ctx)

	chatCtx, cancel := context.WithTimeout(ctx, judgeTimeout)
	defer cancel()

	raw, err := j.client.Chat(chatCtx, j.model, BuildPrompt(query, response), rubricFormat)
	if err != nil && ctx.Err() != nil {
		// The caller gave up on this interaction; it is not a judge failure.
		log.Debug("judge chat cancelled", "error", err)
		return evaluation.ScoreVector{}, nil
	}
	if err != nil {
		log.Warn("judge chat failed", "error", err)
		metrics.JudgeDegraded.Inc()
		return evaluation.ScoreVector{}, nil
	}

	v, err := parseScores(raw)
	if err != nil {
		log.Warn("judge reply not usable", "error", err, "response", raw)
		metrics.JudgeDegraded.Inc()
		return evaluation.ScoreVector{}, nil
	}
	return v, nil
}

// rubric mirrors the JSON object the judge must return.
type rubric struct {
	Clarity          int `json:"clarity" jsonschema:"minimum=1,maximum=5"`
	Completeness     int `json:"completeness" jsonschema:"minimum=1,maximum=5"`
	Specificity      int `json:"specificity" jsonschema:"minimum=1,maximum=5"`
	Relevance        int `json:"relevance" jsonschema:"minimum=1,maximum=5"`
	Safety           int `json:"safety" jsonschema:"minimum=1,maximum=5"`
	Structure        int `json:"structure" jsonschema:"minimum=1,maximum=5"`
	FormatCompliance int `json:"format_compliance" jsonschema:"minimum=1,maximum=5"`
	Correctness      int `json:"correctness" jsonschema:"minimum=1,maximum=5"`
}

// rubricFormat is the JSON schema sent as the structured output format.
var rubricFormat = mustSchema(&rubric{})

func mustSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(v)
	s.Version = ""
	b, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("judge: building rubric schema: %v", err))
	}
	return b
}
