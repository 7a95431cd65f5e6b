package evaluation

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/evald/internal/metrics"
)

// Coordinator runs the similarity and judge evaluators side by side for one
// interaction and merges their vectors into a Result.
//
// A similarity failure fails the whole evaluation. A judge failure is
// downgraded to an all-zero llm vector.
type Coordinator struct {
	similarity Evaluator
	judge      Evaluator
}

// NewCoordinator creates a Coordinator from the two evaluators.
func NewCoordinator(similarity, judge Evaluator) *Coordinator {
	return &Coordinator{similarity: similarity, judge: judge}
}

// Evaluate scores the interaction with both evaluators concurrently.
func (c *Coordinator) Evaluate(ctx context.Context, in Interaction) (Result, error) {
	var res Result
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		v, err := c.similarity.Evaluate(gCtx, in.Query, in.Response)
		if err != nil {
			return fmt.Errorf("similarity evaluation: %w", err)
		}
		res.Human = v.Clamp()
		return nil
	})

	g.Go(func() error {
		v, err := c.judge.Evaluate(gCtx, in.Query, in.Response)
		if err != nil {
			clog.FromContext(ctx).Warn("judge evaluation failed, using zero scores", "error", err)
			metrics.JudgeDegraded.Inc()
			return nil
		}
		res.LLM = v.Clamp()
		return nil
	})

	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return res, nil
}
