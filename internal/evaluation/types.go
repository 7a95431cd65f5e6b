package evaluation

import (
	"context"
	"fmt"
	"math"
)

// MaxScore is the upper bound of every score dimension.
const MaxScore = 5.0

// Dimensions lists the eight score dimensions in column order.
var Dimensions = [8]string{
	"clarity",
	"completeness",
	"specificity",
	"relevance",
	"safety",
	"structure",
	"format_compliance",
	"correctness",
}

// Interaction is one normalized (query, response) pair captured from a model call.
type Interaction struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	Query     string `json:"query"`
	Response  string `json:"response"`
}

// ScoreVector is an eight-dimension quality assessment from one evaluator.
// Every field is always populated; an unavailable dimension is zero.
type ScoreVector struct {
	Clarity          float64 `json:"clarity"`
	Completeness     float64 `json:"completeness"`
	Specificity      float64 `json:"specificity"`
	Relevance        float64 `json:"relevance"`
	Safety           float64 `json:"safety"`
	Structure        float64 `json:"structure"`
	FormatCompliance float64 `json:"format_compliance"`
	Correctness      float64 `json:"correctness"`
}

// Values returns the scores in Dimensions order.
func (v ScoreVector) Values() [8]float64 {
	return [8]float64{
		v.Clarity,
		v.Completeness,
		v.Specificity,
		v.Relevance,
		v.Safety,
		v.Structure,
		v.FormatCompliance,
		v.Correctness,
	}
}

// Fields returns pointers to the scores in Dimensions order, for scanning.
func (v *ScoreVector) Fields() [8]*float64 {
	return [8]*float64{
		&v.Clarity,
		&v.Completeness,
		&v.Specificity,
		&v.Relevance,
		&v.Safety,
		&v.Structure,
		&v.FormatCompliance,
		&v.Correctness,
	}
}

// Clamp returns a copy with every dimension limited to [0, MaxScore].
func (v ScoreVector) Clamp() ScoreVector {
	out := v
	for _, f := range out.Fields() {
		*f = clampScore(*f)
	}
	return out
}

// IsZero reports whether every dimension is zero.
func (v ScoreVector) IsZero() bool {
	return v == ScoreVector{}
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// Result pairs the human-proxy (similarity) and llm (judge) vectors for one interaction.
type Result struct {
	Human ScoreVector `json:"human"`
	LLM   ScoreVector `json:"llm"`
}

// Evaluator scores a single (query, response) pair.
type Evaluator interface {
	Evaluate(ctx context.Context, query, response string) (ScoreVector, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, query, response string) (ScoreVector, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, query, response string) (ScoreVector, error) {
	return f(ctx, query, response)
}

// BackendError reports that an evaluator could not reach or use its model backend.
type BackendError struct {
	Evaluator string
	Err       error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s evaluator backend: %v", e.Evaluator, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
