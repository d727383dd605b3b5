package server

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"plainspeak/internal/config"
	"plainspeak/internal/delivery"
	"plainspeak/internal/history"
	"plainspeak/internal/translate"
)

type staticSettings struct{}

func (staticSettings) Settings(context.Context) config.Settings {
	return config.Settings{APIKey: "sk-test"}.WithDefaults()
}

type streamFunc func(ctx context.Context, prompt string) (io.ReadCloser, error)

func (f streamFunc) StreamChat(ctx context.Context, _ config.Settings, prompt, _ string) (io.ReadCloser, error) {
	return f(ctx, prompt)
}

// scriptedStreamer streams each part as one content delta, then [DONE].
func scriptedStreamer(parts ...string) streamFunc {
	return func(context.Context, string) (io.ReadCloser, error) {
		var b strings.Builder
		for _, p := range parts {
			b.WriteString(`data: {"choices":[{"delta":{"content":"` + p + `"}}]}` + "\n")
		}
		b.WriteString("data: [DONE]\n")
		return io.NopCloser(strings.NewReader(b.String())), nil
	}
}

// hangingStreamer never sends anything and ends when its request is
// cancelled.
func hangingStreamer() streamFunc {
	return func(ctx context.Context, _ string) (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			<-ctx.Done()
			_ = pw.CloseWithError(ctx.Err())
		}()
		return pr, nil
	}
}

type testEnv struct {
	app     *App
	hub     *delivery.Hub
	manager *translate.Manager
	history *history.Store
	srv     *httptest.Server
}

func newTestApp(t *testing.T, streamer translate.Streamer) *testEnv {
	return newTestAppWithRuntime(t, streamer, config.Runtime{TranslateRate: 100, TranslateBurst: 100})
}

func newTestAppWithRuntime(t *testing.T, streamer translate.Streamer, rt config.Runtime) *testEnv {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	hub := delivery.NewHub()
	manager := translate.NewManager(translate.NewRegistry(nil), staticSettings{}, streamer, store, hub)
	app := NewApp(Deps{
		Runtime: rt,
		History: store,
		Hub:     hub,
		Manager: manager,
	})
	srv := httptest.NewServer(app.Router)
	t.Cleanup(srv.Close)
	return &testEnv{app: app, hub: hub, manager: manager, history: store, srv: srv}
}

func (e *testEnv) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/v1/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return msg
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
