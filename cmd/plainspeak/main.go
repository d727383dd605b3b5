package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"plainspeak/internal/auth"
	"plainspeak/internal/config"
	"plainspeak/internal/delivery"
	"plainspeak/internal/history"
	"plainspeak/internal/server"
	"plainspeak/internal/translate"
	"plainspeak/internal/upstream"
	"plainspeak/internal/upstream/transport"
)

func main() {
	config.LoadDotEnv()
	rt := config.LoadRuntime()
	logCloser := config.SetupLogFile(rt.LogFile)
	defer logCloser.Close()
	_ = auth.AdminKey()

	for _, dir := range []string{rt.DataDir, filepath.Dir(rt.SettingsPath), filepath.Dir(rt.HistoryPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			config.Logger.Error("create data directory failed", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	settings := config.NewSettingsStore(rt.SettingsPath, rt.CachePath)
	if err := settings.Watch(ctx); err != nil {
		config.Logger.Warn("settings watcher unavailable", "error", err)
	}
	store, err := history.Open(rt.HistoryPath)
	if err != nil {
		config.Logger.Error("open history failed", "path", rt.HistoryPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Streams have no overall deadline; connection tests do.
	up := upstream.NewClient(
		transport.New(transport.Options{BrowserTLS: rt.BrowserTLS}),
		transport.New(transport.Options{BrowserTLS: rt.BrowserTLS, Timeout: 60 * time.Second}),
	)
	hub := delivery.NewHub()
	manager := translate.NewManager(translate.NewRegistry(nil), settings, up, store, hub)
	app := server.NewApp(server.Deps{
		Base:     ctx,
		Runtime:  rt,
		Settings: settings,
		Upstream: up,
		History:  store,
		Hub:      hub,
		Manager:  manager,
	})

	srv := &http.Server{
		Addr:              "127.0.0.1:" + rt.Port,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine so we can listen for shutdown signals.
	go func() {
		config.Logger.Info("starting plainspeak", "port", rt.Port, "data_dir", rt.DataDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			config.Logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal (Ctrl+C / SIGTERM).
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	config.Logger.Info("shutdown signal received", "signal", sig.String())

	// Cancelling the base context aborts in-flight translations.
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		config.Logger.Error("graceful shutdown failed, forcing exit", "error", err)
		os.Exit(1)
	}
	config.Logger.Info("server gracefully stopped")
}
