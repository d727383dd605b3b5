package sse

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	dataPrefix = "data:"
	doneToken  = "[DONE]"
)

// OptionalString records whether a JSON field was present at all, whether it
// was null, and its string value. Presence and value are tracked separately
// because a present-but-null reasoning_content still marks the reasoning
// stream as active.
type OptionalString struct {
	Present bool
	Valid   bool
	Value   string
}

func (o *OptionalString) UnmarshalJSON(b []byte) error {
	o.Present = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Valid = false
		o.Value = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	o.Valid = true
	o.Value = s
	return nil
}

// Delta is the per-choice incremental payload of a chat-completion chunk.
type Delta struct {
	Content          OptionalString `json:"content"`
	ReasoningContent OptionalString `json:"reasoning_content"`
}

type Choice struct {
	Delta Delta `json:"delta"`
}

// Chunk is one decoded "data:" event of the upstream stream.
type Chunk struct {
	Choices []Choice        `json:"choices"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// ParseDataLine strips the event prefix from one protocol line. It reports
// ok=false for lines that are not data events (blank separators, comments,
// other SSE fields) and done=true for the termination sentinel.
func ParseDataLine(raw string) (payload string, done bool, ok bool) {
	line := strings.TrimSpace(raw)
	if line == "" || !strings.HasPrefix(line, dataPrefix) {
		return "", false, false
	}
	payload = strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == doneToken {
		return "", true, true
	}
	return payload, false, true
}

// DecodeChunk decodes a data payload against the delta schema.
func DecodeChunk(payload string) (Chunk, error) {
	var chunk Chunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return Chunk{}, err
	}
	return chunk, nil
}

// FirstDelta returns the delta of choices[0], if any.
func (c Chunk) FirstDelta() (Delta, bool) {
	if len(c.Choices) == 0 {
		return Delta{}, false
	}
	return c.Choices[0].Delta, true
}

func (c Chunk) HasError() bool {
	e := bytes.TrimSpace(c.Error)
	return len(e) > 0 && !bytes.Equal(e, []byte("null"))
}
