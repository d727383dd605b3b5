package sse

import (
	"strings"

	"plainspeak/internal/config"
)

// Snapshot is the full accumulated state published to a surface. Renderers
// replace their content with it, so re-delivery is harmless.
type Snapshot struct {
	Answer       string
	Reasoning    string
	HasReasoning bool
}

// BatchResult describes what one network read contributed.
type BatchResult struct {
	// Publish is true when the batch added at least one non-empty fragment.
	Publish  bool
	Terminal bool
	// ErrorMessage carries an inline upstream error event, if one was seen.
	ErrorMessage string
	Snapshot     Snapshot
}

// Accumulator folds parsed deltas into the answer and reasoning strings.
// Both strings only grow, and HasReasoning never reverts once set.
type Accumulator struct {
	answer       strings.Builder
	reasoning    strings.Builder
	hasReasoning bool
}

// ApplyBatch parses every line from one network read. Lines after a
// terminal marker or inline error in the same batch are ignored.
func (a *Accumulator) ApplyBatch(lines []string) BatchResult {
	var content, reasoning strings.Builder
	res := BatchResult{}
	for _, line := range lines {
		r := ParseDeltaLine(line)
		if r.Err != nil {
			config.Logger.Warn("skip malformed delta", "error", r.Err, "line", truncate(line, 200))
			continue
		}
		if !r.Parsed {
			continue
		}
		if r.ErrorMessage != "" {
			res.ErrorMessage = r.ErrorMessage
			res.Terminal = true
			break
		}
		if r.Terminal {
			res.Terminal = true
			break
		}
		if r.ReasoningPresent {
			a.hasReasoning = true
		}
		content.WriteString(r.Content)
		reasoning.WriteString(r.Reasoning)
	}
	if content.Len() > 0 || reasoning.Len() > 0 {
		a.answer.WriteString(content.String())
		a.reasoning.WriteString(reasoning.String())
		res.Publish = true
	}
	res.Snapshot = a.Snapshot()
	return res
}

func (a *Accumulator) Snapshot() Snapshot {
	return Snapshot{
		Answer:       a.answer.String(),
		Reasoning:    a.reasoning.String(),
		HasReasoning: a.hasReasoning,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
