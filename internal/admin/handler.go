package admin

import (
	"context"

	"github.com/go-chi/chi/v5"

	"plainspeak/internal/config"
	"plainspeak/internal/translate"
)

// SettingsStore is the subset of config.SettingsStore the admin API needs.
type SettingsStore interface {
	Settings(ctx context.Context) config.Settings
	Synced() (config.Settings, error)
	Save(next config.Settings) error
}

// Tester runs a non-streaming completion against the configured endpoint.
type Tester interface {
	Complete(ctx context.Context, s config.Settings, prompt string) (string, error)
}

// StatusSource reports live connection and translation state.
type StatusSource interface {
	Counts() (tabs, popups int)
}

type Handler struct {
	Settings SettingsStore
	Upstream Tester
	Registry *translate.Registry
	Surfaces StatusSource
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/login", h.login)
	r.Get("/verify", h.verify)
	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAdmin)
		pr.Get("/settings", h.getSettings)
		pr.Post("/settings", h.updateSettings)
		pr.Post("/test", h.testAPI)
		pr.Get("/status", h.status)
	})
}
