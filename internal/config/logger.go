package config

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide structured logger.
var Logger = newLogger(os.Stderr)

func newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("PLAINSPEAK_LOG_LEVEL"))}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("PLAINSPEAK_LOG_FORMAT")), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogFile tees log output into a size-rotated file. An empty path keeps
// stderr-only logging. The returned closer flushes the rotating writer.
func SetupLogFile(path string) io.Closer {
	path = strings.TrimSpace(path)
	if path == "" {
		return nopCloser{}
	}
	rot := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
	Logger = newLogger(io.MultiWriter(os.Stderr, rot))
	slog.SetDefault(Logger)
	return rot
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
