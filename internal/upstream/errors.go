package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMissingAPIKey rejects a request before any network call is made.
var ErrMissingAPIKey = errors.New("API key is not configured: set an API key in settings first")

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API request failed: %d", e.Code)
	}
	return fmt.Sprintf("API request failed: %d: %s", e.Code, e.Message)
}

// PolicyError is a refusal reported by the upstream, either as a rate-limit
// response or as an inline error event in the stream. Its message is shown
// to the user verbatim.
type PolicyError struct {
	Code    int
	Message string
}

func (e *PolicyError) Error() string {
	return e.Message
}

func classifyStatus(code int, message string) error {
	message = strings.TrimSpace(message)
	if code == http.StatusTooManyRequests || strings.Contains(strings.ToLower(message), rateLimitPhrase) {
		if message == "" {
			message = fmt.Sprintf("%s exceeded (%d)", rateLimitPhrase, code)
		}
		return &PolicyError{Code: code, Message: message}
	}
	return &StatusError{Code: code, Message: message}
}

// InlineError converts an error event found inside an otherwise successful
// stream.
func InlineError(message string) error {
	return &PolicyError{Message: strings.TrimSpace(message)}
}

// IsUserVisible reports whether err belongs to the classes that are surfaced
// to the user: missing key, non-2xx status, upstream policy refusal.
func IsUserVisible(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissingAPIKey) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return true
	}
	var pe *PolicyError
	return errors.As(err, &pe)
}
