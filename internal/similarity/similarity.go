// Package similarity scores how topically related a response is to its query
// by comparing their embeddings.
package similarity

import (
	"context"
	"fmt"
	"math"

	"github.com/chainguard-dev/clog"

	"github.com/kalambet/evald/internal/evaluation"
)

// Name identifies this evaluator in errors and logs.
const Name = "similarity"

// Embedder returns one embedding per text, in input order.
type Embedder interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Evaluator fills only the relevance dimension:
// relevance = (1 - cosineDistance) * 5, clamped to [0,5].
// Every other dimension stays zero.
type Evaluator struct {
	embedder Embedder
	model    string
}

// New creates an Evaluator embedding with the given model.
func New(e Embedder, model string) *Evaluator {
	return &Evaluator{embedder: e, model: model}
}

// Evaluate embeds query and response in one batch and scores their distance.
// Backend failures are returned as *evaluation.BackendError.
func (e *Evaluator) Evaluate(ctx context.Context, query, response string) (evaluation.ScoreVector, error) {
	vecs, err := e.embedder.Embed(ctx, e.model, []string{query, response})
	if err != nil {
		return evaluation.ScoreVector{}, &evaluation.BackendError{Evaluator: Name, Err: err}
	}
	if len(vecs) != 2 {
		return evaluation.ScoreVector{}, &evaluation.BackendError{
			Evaluator: Name,
			Err:       fmt.Errorf("got %d embeddings, want 2", len(vecs)),
		}
	}

	d, err := CosineDistance(vecs[0], vecs[1])
	if err != nil {
		return evaluation.ScoreVector{}, &evaluation.BackendError{Evaluator: Name, Err: err}
	}

	clog.FromContext(ctx).Debug("similarity scored", "distance", d)
	return evaluation.ScoreVector{Relevance: Relevance(d)}, nil
}

// Relevance converts a cosine distance to a 0-5 score.
func Relevance(distance float64) float64 {
	r := (1 - distance) * evaluation.MaxScore
	switch {
	case math.IsNaN(r), r < 0:
		return 0
	case r > evaluation.MaxScore:
		return evaluation.MaxScore
	}
	return r
}

// CosineDistance returns 1 - cos(a, b). A zero vector is treated as
// unrelated to everything (distance 1).
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimensions differ: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("empty embedding")
	}
	var dot, aNormSq, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aNormSq += float64(a[i]) * float64(a[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if aNormSq == 0 || bNormSq == 0 {
		return 1, nil
	}
	return 1 - dot/(math.Sqrt(aNormSq)*math.Sqrt(bNormSq)), nil
}
