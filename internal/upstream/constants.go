package upstream

var BaseHeaders = map[string]string{
	"Content-Type":    "application/json",
	"Accept-Encoding": "br, gzip, identity",
	"User-Agent":      "plainspeak/1.0",
}

const (
	// maxErrorBodyBytes bounds how much of a non-2xx body is read for the
	// error message.
	maxErrorBodyBytes = 64 * 1024
	rateLimitPhrase   = "rate limit"
)
