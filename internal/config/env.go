package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Runtime holds process-level configuration read from the environment.
type Runtime struct {
	Port         string
	DataDir      string
	SettingsPath string
	CachePath    string
	HistoryPath  string
	LogFile      string
	// BrowserTLS sends upstream HTTPS with a browser ClientHello.
	BrowserTLS bool
	// TranslateRate is the sustained translate actions per second allowed
	// for one connected surface; TranslateBurst is the bucket size.
	TranslateRate  float64
	TranslateBurst int
}

// LoadDotEnv loads a .env file from the working directory when present.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		Logger.Warn("failed to load .env", "error", err)
	}
}

func LoadRuntime() Runtime {
	dataDir := envOr("PLAINSPEAK_DATA_DIR", defaultDataDir())
	return Runtime{
		Port:           envOr("PORT", "5002"),
		DataDir:        dataDir,
		SettingsPath:   envOr("PLAINSPEAK_SETTINGS_FILE", filepath.Join(dataDir, "settings.yaml")),
		CachePath:      envOr("PLAINSPEAK_SETTINGS_CACHE", filepath.Join(dataDir, "settings.local.json")),
		HistoryPath:    envOr("PLAINSPEAK_HISTORY_DB", filepath.Join(dataDir, "history.db")),
		LogFile:        strings.TrimSpace(os.Getenv("PLAINSPEAK_LOG_FILE")),
		BrowserTLS:     envBool("PLAINSPEAK_BROWSER_TLS", true),
		TranslateRate:  envFloat("PLAINSPEAK_TRANSLATE_RATE", 2),
		TranslateBurst: envInt("PLAINSPEAK_TRANSLATE_BURST", 5),
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "plainspeak")
	}
	return ".plainspeak"
}

func envOr(key, d string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return d
}

func envInt(key string, d int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return d
}

func envFloat(key string, d float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			return n
		}
	}
	return d
}

func envBool(key string, d bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return d
}
