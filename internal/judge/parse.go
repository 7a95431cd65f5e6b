package judge

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/kalambet/evald/internal/evaluation"
)

// ParseError describes a judge reply that could not be turned into scores.
// It never leaves this package.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("judge parse: %s: %v", e.Reason, e.Err)
	}
	return "judge parse: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	fencedJSON    = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// repair makes one attempt at turning a chatty reply into bare JSON: it takes
// the content of a markdown fence or the outermost braces, then drops
// trailing commas.
func repair(raw string) string {
	s := raw
	if m := fencedJSON.FindStringSubmatch(s); len(m) > 1 {
		s = m[1]
	}
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start != -1 && end > start {
		s = s[start : end+1]
	}
	return trailingComma.ReplaceAllString(s, "$1")
}

// parseScores decodes all eight dimensions from raw. A missing key or a
// non-numeric value fails the whole parse; scores are clamped to [0,5].
func parseScores(raw string) (evaluation.ScoreVector, error) {
	if strings.TrimSpace(raw) == "" {
		return evaluation.ScoreVector{}, &ParseError{Reason: "empty reply"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		if err2 := json.Unmarshal([]byte(repair(raw)), &fields); err2 != nil {
			return evaluation.ScoreVector{}, &ParseError{Reason: "reply is not a JSON object", Err: err}
		}
	}

	var v evaluation.ScoreVector
	ptrs := v.Fields()
	for i, dim := range evaluation.Dimensions {
		rawVal, ok := fields[dim]
		if !ok || strings.TrimSpace(string(rawVal)) == "null" {
			return evaluation.ScoreVector{}, &ParseError{Reason: "missing key " + dim}
		}
		var f float64
		if err := json.Unmarshal(rawVal, &f); err != nil {
			return evaluation.ScoreVector{}, &ParseError{Reason: "non-numeric " + dim, Err: err}
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return evaluation.ScoreVector{}, &ParseError{Reason: "non-finite " + dim}
		}
		*ptrs[i] = f
	}
	return v.Clamp(), nil
}
