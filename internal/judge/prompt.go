package judge

import (
	"fmt"

	"github.com/kalambet/evald/internal/engine"
)

const rubricTemplate = `You are a prompt evaluator.
Evaluate the following:
- User prompt: %s
- Model response: %s

Score the response on each dimension from 1 (poor) to 5 (excellent):
Clarity: 1-5
Completeness: 1-5
Specificity: 1-5
Relevance: 1-5
Safety: 1-5
Structure: 1-5
Format compliance: 1-5
Correctness: 1-5

Return your evaluation strictly as a JSON object with exactly these keys:
{
    "clarity": int,
    "completeness": int,
    "specificity": int,
    "relevance": int,
    "safety": int,
    "structure": int,
    "format_compliance": int,
    "correctness": int
}
Do not include any text outside this JSON.`

// BuildPrompt returns the single user message asking the judge model to
// score response as an answer to query.
func BuildPrompt(query, response string) []engine.Message {
	return []engine.Message{
		{Role: "user", Content: fmt.Sprintf(rubricTemplate, query, response)},
	}
}
