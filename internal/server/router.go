package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"plainspeak/internal/admin"
	"plainspeak/internal/config"
	"plainspeak/internal/delivery"
	"plainspeak/internal/history"
	"plainspeak/internal/translate"
)

// HistoryStore is the history surface exposed over HTTP and websocket.
type HistoryStore interface {
	List(ctx context.Context) ([]history.Entry, error)
	Delete(ctx context.Context, original string) error
	Clear(ctx context.Context) error
	Import(ctx context.Context, entries []history.Entry) (int, error)
}

// Deps are the components the HTTP surface is wired to.
type Deps struct {
	// Base outlives individual connections; translations derive from it.
	Base     context.Context
	Runtime  config.Runtime
	Settings admin.SettingsStore
	Upstream admin.Tester
	History  HistoryStore
	Hub      *delivery.Hub
	Manager  *translate.Manager
}

type App struct {
	Router http.Handler

	base     context.Context
	rt       config.Runtime
	history  HistoryStore
	hub      *delivery.Hub
	manager  *translate.Manager
	upgrader websocket.Upgrader
}

func NewApp(d Deps) *App {
	if d.Base == nil {
		d.Base = context.Background()
	}
	if d.Runtime.TranslateRate <= 0 || d.Runtime.TranslateBurst <= 0 {
		d.Runtime.TranslateRate, d.Runtime.TranslateBurst = 2, 5
	}
	if d.Hub == nil {
		d.Hub = delivery.NewHub()
	}
	var registry *translate.Registry
	if d.Manager != nil {
		registry = d.Manager.Registry()
	}
	a := &App{
		base:    d.Base,
		rt:      d.Runtime,
		history: d.History,
		hub:     d.Hub,
		manager: d.Manager,
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      allowOrigin,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", healthz)
	r.Head("/healthz", healthz)
	r.Get("/readyz", a.readyz)
	r.Head("/readyz", a.readyz)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/ws", a.serveWS)
		v1.Post("/selection", a.selection)
		v1.Get("/history", a.listHistory)
		v1.Delete("/history", a.clearHistory)
		v1.Delete("/history/item", a.deleteHistoryItem)
		v1.Post("/history/import", a.importHistory)
		v1.Get("/history/export", a.exportHistory)
	})
	r.Route("/admin", func(ar chi.Router) {
		admin.RegisterRoutes(ar, &admin.Handler{
			Settings: d.Settings,
			Upstream: d.Upstream,
			Registry: registry,
			Surfaces: d.Hub,
		})
	})
	a.Router = r
	return a
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *App) readyz(w http.ResponseWriter, r *http.Request) {
	if a.history == nil || a.manager == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
		return
	}
	tabs, popups := a.hub.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"tabs":         tabs,
		"popups":       popups,
		"translations": a.manager.Registry().Len(),
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			return
		}
		config.Logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
