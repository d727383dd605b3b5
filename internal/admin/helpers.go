package admin

import (
	"errors"

	"plainspeak/internal/upstream"
	"plainspeak/internal/util"
)

// writeJSON and decodeJSON are package-internal aliases for the shared util versions.
var writeJSON = util.WriteJSON
var decodeJSON = util.DecodeJSON

func intFrom(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}

// statusOf returns the upstream HTTP status carried by err, or 0.
func statusOf(err error) int {
	var se *upstream.StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	var pe *upstream.PolicyError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return 0
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
