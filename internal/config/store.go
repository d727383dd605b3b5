package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// SettingsJSONEnv overrides the synced settings file with inline JSON.
const SettingsJSONEnv = "PLAINSPEAK_SETTINGS_JSON"

// SettingsStore resolves upstream settings from, in order: the synced source
// (inline JSON env or a YAML file shared across machines), a local JSON cache
// refreshed from every successful synced read, and hardcoded defaults.
type SettingsStore struct {
	syncPath  string
	cachePath string

	mu      sync.RWMutex
	synced  Settings
	loaded  bool
	syncErr error
	cached  Settings
}

func NewSettingsStore(syncPath, cachePath string) *SettingsStore {
	return &SettingsStore{
		syncPath:  strings.TrimSpace(syncPath),
		cachePath: strings.TrimSpace(cachePath),
	}
}

// Settings returns the best available settings and never fails.
func (s *SettingsStore) Settings(_ context.Context) Settings {
	synced, err := s.syncedSettings()
	if err != nil {
		Logger.Warn("synced source unavailable, trying local cache", "error", err)
	} else if !synced.IsEmpty() {
		s.refreshCache(synced)
		return synced.WithDefaults()
	}
	local, err := s.readCache()
	if err != nil {
		Logger.Warn("local cache unavailable", "error", err)
	} else if !local.IsEmpty() {
		Logger.Debug("using local cache")
		return local.WithDefaults()
	}
	Logger.Debug("using defaults")
	return DefaultSettings()
}

// Synced returns the raw synced-source settings without defaults applied.
func (s *SettingsStore) Synced() (Settings, error) {
	return s.syncedSettings()
}

// Save writes settings to the synced YAML file.
func (s *SettingsStore) Save(next Settings) error {
	if s.syncPath == "" {
		return errors.New("settings file path is not configured")
	}
	if strings.TrimSpace(os.Getenv(SettingsJSONEnv)) != "" {
		return fmt.Errorf("settings are pinned by %s", SettingsJSONEnv)
	}
	b, err := yaml.Marshal(next)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.syncPath, b); err != nil {
		return err
	}
	s.Reload()
	return nil
}

// Reload drops the in-memory copy of the synced source.
func (s *SettingsStore) Reload() {
	s.mu.Lock()
	s.loaded = false
	s.syncErr = nil
	s.mu.Unlock()
}

// Watch reloads the synced source whenever its file changes, until ctx is
// done. The parent directory is watched so editors that replace the file
// are handled.
func (s *SettingsStore) Watch(ctx context.Context) error {
	if s.syncPath == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.syncPath)); err != nil {
		_ = w.Close()
		return err
	}
	target := filepath.Clean(s.syncPath)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					Logger.Info("synced file changed, reloading", "op", ev.Op.String())
					s.Reload()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				Logger.Warn("watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (s *SettingsStore) syncedSettings() (Settings, error) {
	s.mu.RLock()
	if s.loaded {
		out, err := s.synced, s.syncErr
		s.mu.RUnlock()
		return out, err
	}
	s.mu.RUnlock()

	out, err := s.loadSynced()
	s.mu.Lock()
	s.synced, s.syncErr, s.loaded = out, err, true
	s.mu.Unlock()
	return out, err
}

func (s *SettingsStore) loadSynced() (Settings, error) {
	if raw := strings.TrimSpace(os.Getenv(SettingsJSONEnv)); raw != "" {
		var out Settings
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return Settings{}, fmt.Errorf("parse %s: %w", SettingsJSONEnv, err)
		}
		return out, nil
	}
	if s.syncPath == "" {
		return Settings{}, nil
	}
	b, err := os.ReadFile(s.syncPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Settings{}, nil
		}
		return Settings{}, err
	}
	var out Settings
	if err := yaml.Unmarshal(b, &out); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", s.syncPath, err)
	}
	return out, nil
}

func (s *SettingsStore) refreshCache(next Settings) {
	if s.cachePath == "" {
		return
	}
	s.mu.Lock()
	same := reflect.DeepEqual(s.cached, next)
	s.mu.Unlock()
	if same {
		return
	}
	b, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		Logger.Error("encode local cache failed", "error", err)
		return
	}
	if err := writeFileAtomic(s.cachePath, b); err != nil {
		Logger.Error("write local cache failed", "error", err)
		return
	}
	s.mu.Lock()
	s.cached = next
	s.mu.Unlock()
}

func (s *SettingsStore) readCache() (Settings, error) {
	if s.cachePath == "" {
		return Settings{}, nil
	}
	b, err := os.ReadFile(s.cachePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Settings{}, nil
		}
		return Settings{}, err
	}
	var out Settings
	if err := json.Unmarshal(b, &out); err != nil {
		return Settings{}, err
	}
	return out, nil
}

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
