package admin

import (
	"context"
	"net/http"
	"strings"
	"time"

	"plainspeak/internal/config"
	"plainspeak/internal/upstream"
)

const (
	testPrompt  = "Test message"
	testTimeout = 30 * time.Second
)

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	effective := h.Settings.Settings(r.Context())
	resp := map[string]any{
		"settings":    effective.Masked(),
		"has_api_key": effective.APIKey != "",
	}
	if _, err := h.Settings.Synced(); err != nil {
		resp["sync_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var next config.Settings
	if err := decodeJSON(r, &next); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "invalid json"})
		return
	}
	next = h.keepStoredKey(r.Context(), next)
	if next.Temperature != nil && (*next.Temperature < 0 || *next.Temperature > 2) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "temperature must be between 0 and 2"})
		return
	}
	if err := h.Settings.Save(next); err != nil {
		config.Logger.Error("save settings failed", "error", err)
		writeJSON(w, http.StatusConflict, map[string]any{"detail": err.Error()})
		return
	}
	config.Logger.Info("settings updated", "model", next.Model, "base_url", next.BaseURL)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"settings": h.Settings.Settings(r.Context()).Masked(),
	})
}

// testAPI checks the endpoint with the posted settings, or the stored ones
// when the body is empty. Unlike a translation it is not streamed.
func (h *Handler) testAPI(w http.ResponseWriter, r *http.Request) {
	var candidate config.Settings
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &candidate); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "invalid json"})
			return
		}
	}
	s := h.keepStoredKey(r.Context(), candidate)
	if candidate.IsEmpty() {
		s = h.Settings.Settings(r.Context())
	}
	s = s.WithDefaults()
	if s.APIKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": upstream.ErrMissingAPIKey.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), testTimeout)
	defer cancel()
	start := time.Now()
	reply, err := h.Upstream.Complete(ctx, s, testPrompt)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		config.Logger.Warn("connection test failed", "model", s.Model, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    false,
			"message":    err.Error(),
			"status":     statusOf(err),
			"latency_ms": latency,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "connection ok",
		"model":      s.Model,
		"reply":      preview(reply, 120),
		"latency_ms": latency,
	})
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{}
	if h.Registry != nil {
		resp["translations"] = h.Registry.Active()
	}
	if h.Surfaces != nil {
		tabs, popups := h.Surfaces.Counts()
		resp["tabs"] = tabs
		resp["popups"] = popups
	}
	writeJSON(w, http.StatusOK, resp)
}

// keepStoredKey restores the stored API key when the posted one is empty or
// is the masked value the settings page was given.
func (h *Handler) keepStoredKey(ctx context.Context, next config.Settings) config.Settings {
	key := strings.TrimSpace(next.APIKey)
	stored := h.Settings.Settings(ctx).APIKey
	if key == "" || (stored != "" && key == config.MaskSecret(stored)) {
		next.APIKey = stored
	}
	return next
}
