package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"

	"plainspeak/internal/config"
	"plainspeak/internal/sse"
	"plainspeak/internal/upstream/transport"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat-completions request body.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	stream transport.Doer
	plain  transport.Doer
}

// NewClient uses stream for streaming calls and plain for short
// request/response calls. Either may be nil to get the default transport.
func NewClient(stream, plain transport.Doer) *Client {
	if stream == nil {
		stream = transport.New(transport.Options{})
	}
	if plain == nil {
		plain = stream
	}
	return &Client{stream: stream, plain: plain}
}

func NewRequestBody(s config.Settings, prompt string, stream bool) ChatRequest {
	return ChatRequest{
		Model:       s.Model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: s.TemperatureValue(),
		Stream:      stream,
	}
}

// StreamChat starts a streaming completion and returns the decoded response
// body. Cancelling ctx aborts the in-flight read at the transport level.
func (c *Client) StreamChat(ctx context.Context, s config.Settings, prompt, requestID string) (io.ReadCloser, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	req, err := c.newRequest(ctx, s, NewRequestBody(s, prompt, true), requestID)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode, readErrorMessage(resp))
	}
	body, err := decodeBody(resp)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return body, nil
}

// Complete performs a non-streaming completion and returns the first choice's
// message content. Used for connection tests.
func (c *Client) Complete(ctx context.Context, s config.Settings, prompt string) (string, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return "", ErrMissingAPIKey
	}
	req, err := c.newRequest(ctx, s, NewRequestBody(s, prompt, false), "")
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.plain.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", classifyStatus(resp.StatusCode, readErrorMessage(resp))
	}
	body, err := decodeBody(resp)
	if err != nil {
		return "", err
	}
	defer body.Close()
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	choices := gjson.GetBytes(b, "choices")
	if !choices.IsArray() {
		if msg := gjson.GetBytes(b, "error"); msg.Exists() {
			return "", classifyStatus(resp.StatusCode, sse.ErrorMessage([]byte(msg.Raw)))
		}
		return "", errors.New("unexpected response: missing choices")
	}
	return choices.Get("0.message.content").String(), nil
}

func (c *Client) newRequest(ctx context.Context, s config.Settings, body ChatRequest, requestID string) (*http.Request, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for k, v := range BaseHeaders {
		req.Header.Set(k, v)
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-Id", requestID)
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(s.APIKey))
	return req, nil
}

func readErrorMessage(resp *http.Response) string {
	body, err := decodeBody(resp)
	if err != nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	if e := gjson.GetBytes(b, "error"); e.Exists() {
		return sse.ErrorMessage([]byte(e.Raw))
	}
	if m := gjson.GetBytes(b, "message"); m.Exists() {
		return strings.TrimSpace(m.String())
	}
	return strings.TrimSpace(string(b))
}

// decodeBody wraps resp.Body according to Content-Encoding. Closing the
// result closes the underlying body.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		return readCloser{Reader: brotli.NewReader(resp.Body), Closer: resp.Body}, nil
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		return readCloser{Reader: zr, Closer: resp.Body}, nil
	default:
		return resp.Body, nil
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}
