package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"plainspeak/internal/config"
	"plainspeak/internal/delivery"
	"plainspeak/internal/translate"
	"plainspeak/internal/upstream"
)

type memorySettings struct {
	stored  config.Settings
	saved   []config.Settings
	saveErr error
}

func (m *memorySettings) Settings(context.Context) config.Settings { return m.stored.WithDefaults() }

func (m *memorySettings) Synced() (config.Settings, error) { return m.stored, nil }

func (m *memorySettings) Save(next config.Settings) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, next)
	m.stored = next
	return nil
}

type fakeTester struct {
	got   config.Settings
	reply string
	err   error
}

func (f *fakeTester) Complete(_ context.Context, s config.Settings, _ string) (string, error) {
	f.got = s
	return f.reply, f.err
}

func newTestRouter(store *memorySettings, tester *fakeTester) http.Handler {
	r := chi.NewRouter()
	RegisterRoutes(r, &Handler{Settings: store, Upstream: tester})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer admin-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestSettingsRequireAuth(t *testing.T) {
	t.Setenv("PLAINSPEAK_ADMIN_KEY", "admin-key")
	h := newTestRouter(&memorySettings{}, &fakeTester{})
	req := httptest.NewRequest(http.MethodGet, "/settings", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	t.Setenv("PLAINSPEAK_ADMIN_KEY", "admin-key")
	h := newTestRouter(&memorySettings{}, &fakeTester{})

	rec, out := do(t, h, http.MethodPost, "/login", `{"admin_key":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected wrong key rejected, got %d", rec.Code)
	}
	rec, out = do(t, h, http.MethodPost, "/login", `{"admin_key":"admin-key"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected login ok, got %d", rec.Code)
	}
	token, _ := out["token"].(string)
	if token == "" {
		t.Fatalf("expected token, got %#v", out)
	}

	req := httptest.NewRequest(http.MethodGet, "/verify", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	vrec := httptest.NewRecorder()
	h.ServeHTTP(vrec, req)
	if vrec.Code != http.StatusOK || !strings.Contains(vrec.Body.String(), `"valid":true`) {
		t.Fatalf("expected token verified, got %d %s", vrec.Code, vrec.Body.String())
	}
}

func TestGetSettingsMasksKey(t *testing.T) {
	t.Setenv("PLAINSPEAK_ADMIN_KEY", "admin-key")
	store := &memorySettings{stored: config.Settings{APIKey: "sk-1234567890abcdef"}}
	h := newTestRouter(store, &fakeTester{})
	rec, _ := do(t, h, http.MethodGet, "/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "sk-1234567890abcdef") {
		t.Fatalf("api key leaked: %s", body)
	}
	if !strings.Contains(body, config.MaskSecret("sk-1234567890abcdef")) {
		t.Fatalf("expected masked key in %s", body)
	}
	if !strings.Contains(body, config.DefaultModel) {
		t.Fatalf("expected defaults applied in %s", body)
	}
}

func TestUpdateSettingsKeepsKeyWhenMaskedValuePosted(t *testing.T) {
	t.Setenv("PLAINSPEAK_ADMIN_KEY", "admin-key")
	store := &memorySettings{stored: config.Settings{APIKey: "sk-1234567890abcdef"}}
	h := newTestRouter(store, &fakeTester{})
	masked := config.MaskSecret("sk-1234567890abcdef")
	rec, _ := do(t, h, http.MethodPost, "/settings", `{"apiKey":"`+masked+`","model":"deepseek-chat","temperature":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected one save, got %d", len(store.saved))
	}
	saved := store.saved[0]
	if saved.APIKey != "sk-1234567890abcdef" || saved.Model != "deepseek-chat" {
		t.Fatalf("unexpected saved settings: %#v", saved)
	}
	if saved.Temperature == nil || *saved.Temperature != 0 {
		t.Fatalf("explicit zero temperature lost: %#v", saved.Temperature)
	}
}

func TestUpdateSettingsRejectsBadInput(t *testing.T) {
	t.Setenv("PLAINSPEAK_ADMIN_KEY", "admin-key")
	store := &memorySettings{}
	h := newTestRouter(store, &fakeTester{})
	if rec, _ := do(t, h, http.MethodPost, "/settings", `{`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}
	if rec, _ := do(t, h, http.MethodPost, "/settings", `{"temperature":5}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of range temperature, got %d", rec.Code)
	}
	store.saveErr = errors.New("settings are pinned")
	if rec, _ := do(t, h, http.MethodPost, "/settings", `{"model":"m"}`); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when save fails, got %d", rec.Code)
	}
}

func TestTestAPIUsesStoredSettings(t *testing.T) {
	t.Setenv("PLAINSPEAK_ADMIN_KEY", "admin-key")
	store := &memorySettings{stored: config.Settings{APIKey: "sk-stored-key-0001"}}
	tester := &fakeTester{reply: "hello"}
	h := newTestRouter(store, tester)
	rec, out := do(t, h, http.MethodPost, "/test", "")
	if rec.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("unexpected response: %d %#v", rec.Code, out)
	}
	if tester.got.APIKey != "sk-stored-key-0001" || tester.got.Model != config.DefaultModel {
		t.Fatalf("unexpected settings passed to tester: %#v", tester.got)
	}
}

func TestTestAPIReportsUpstreamMessage(t *testing.T) {
	t.Setenv("PLAINSPEAK_ADMIN_KEY", "admin-key")
	store := &memorySettings{}
	tester := &fakeTester{err: &upstream.StatusError{Code: 401, Message: "Authentication Fails"}}
	h := newTestRouter(store, tester)
	rec, out := do(t, h, http.MethodPost, "/test", `{"apiKey":"sk-new"}`)
	if rec.Code != http.StatusOK || out["success"] != false {
		t.Fatalf("unexpected response: %d %#v", rec.Code, out)
	}
	if msg, _ := out["message"].(string); !strings.Contains(msg, "Authentication Fails") {
		t.Fatalf("expected upstream message, got %#v", out)
	}
	if status, _ := out["status"].(float64); status != 401 {
		t.Fatalf("expected status 401, got %#v", out["status"])
	}
}

func TestTestAPIWithoutKey(t *testing.T) {
	t.Setenv("PLAINSPEAK_ADMIN_KEY", "admin-key")
	tester := &fakeTester{}
	h := newTestRouter(&memorySettings{}, tester)
	rec, out := do(t, h, http.MethodPost, "/test", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg, _ := out["message"].(string); !strings.Contains(msg, "API key") {
		t.Fatalf("unexpected message: %#v", out)
	}
}

func TestPreview(t *testing.T) {
	if got := preview("abc", 5); got != "abc" {
		t.Fatalf("unexpected preview: %q", got)
	}
	if got := preview("日本語テキスト", 3); got != "日本語..." {
		t.Fatalf("unexpected preview: %q", got)
	}
}

type fixedCounts struct{ tabs, popups int }

func (f fixedCounts) Counts() (int, int) { return f.tabs, f.popups }

func TestStatusReportsActiveTranslationsAndSurfaces(t *testing.T) {
	t.Setenv("PLAINSPEAK_ADMIN_KEY", "admin-key")
	registry := translate.NewRegistry(nil)
	entry := registry.Begin(context.Background(), delivery.Tab(3))
	defer registry.Finish(entry)

	r := chi.NewRouter()
	RegisterRoutes(r, &Handler{
		Settings: &memorySettings{},
		Upstream: &fakeTester{},
		Registry: registry,
		Surfaces: fixedCounts{tabs: 2, popups: 1},
	})
	rec, out := do(t, r, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if out["tabs"] != float64(2) || out["popups"] != float64(1) {
		t.Fatalf("unexpected surface counts: %#v", out)
	}
	list, _ := out["translations"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected one active translation, got %#v", out["translations"])
	}
	item, _ := list[0].(map[string]any)
	if item["id"] != entry.ID || item["destination"] != "tab:3" {
		t.Fatalf("unexpected translation status: %#v", item)
	}
}
