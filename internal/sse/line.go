package sse

import (
	"strings"

	"github.com/tidwall/gjson"
)

// LineResult is the normalized parse result for one upstream stream line.
type LineResult struct {
	Parsed       bool
	Terminal     bool
	ErrorMessage string
	// Err is set when a data payload could not be decoded. The line is
	// otherwise ignored.
	Err       error
	Content   string
	Reasoning string
	// ReasoningPresent is true when the delta carried a reasoning_content
	// field, even if it was null or empty.
	ReasoningPresent bool
}

// ParseDeltaLine interprets one protocol line as a termination marker, an
// inline upstream error, or a content/reasoning delta.
func ParseDeltaLine(raw string) LineResult {
	payload, done, ok := ParseDataLine(raw)
	if !ok {
		return LineResult{}
	}
	if done {
		return LineResult{Parsed: true, Terminal: true}
	}
	chunk, err := DecodeChunk(payload)
	if err != nil {
		return LineResult{Err: err}
	}
	if chunk.HasError() {
		return LineResult{
			Parsed:       true,
			Terminal:     true,
			ErrorMessage: ErrorMessage(chunk.Error),
		}
	}
	delta, ok := chunk.FirstDelta()
	if !ok {
		return LineResult{Parsed: true}
	}
	res := LineResult{Parsed: true, ReasoningPresent: delta.ReasoningContent.Present}
	if delta.Content.Valid {
		res.Content = delta.Content.Value
	}
	if delta.ReasoningContent.Valid {
		res.Reasoning = delta.ReasoningContent.Value
	}
	return res
}

// ErrorMessage extracts a human-readable message from an OpenAI-style error
// envelope, which may be a bare string or an object with a message field.
func ErrorMessage(raw []byte) string {
	v := gjson.ParseBytes(raw)
	switch {
	case v.Type == gjson.String:
		return strings.TrimSpace(v.String())
	case v.Get("message").Exists():
		return strings.TrimSpace(v.Get("message").String())
	case v.Get("error.message").Exists():
		return strings.TrimSpace(v.Get("error.message").String())
	}
	return strings.TrimSpace(v.Raw)
}
