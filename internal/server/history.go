package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"plainspeak/internal/config"
	"plainspeak/internal/delivery"
	"plainspeak/internal/history"
	"plainspeak/internal/protocol"
	"plainspeak/internal/util"
)

const maxImportBytes = 16 << 20

var writeJSON = util.WriteJSON

var errInvalidImport = errors.New("import must be a JSON array of history entries")

// selection is the context-menu path: it asks the tab's overlay to open with
// the selected text.
func (a *App) selection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TabID *int   `json:"tabId"`
		Text  string `json:"text"`
	}
	if err := util.DecodeJSON(r, &req); err != nil || req.TabID == nil {
		util.WriteError(w, http.StatusBadRequest, "tabId and text are required")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		util.WriteError(w, http.StatusBadRequest, "text is empty")
		return
	}
	res, err := a.hub.Deliver(r.Context(), delivery.Tab(*req.TabID), protocol.NewShowTranslationPopup(req.Text))
	switch res {
	case delivery.Delivered:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case delivery.RecipientAbsent:
		util.WriteError(w, http.StatusNotFound, "tab is not connected")
	default:
		config.Logger.Warn("deliver selection failed", "tab", *req.TabID, "error", err)
		util.WriteError(w, http.StatusBadGateway, "failed to reach tab")
	}
}

func (a *App) listHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := a.history.List(r.Context())
	if err != nil {
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": entries})
}

func (a *App) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := a.history.Clear(r.Context()); err != nil {
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *App) deleteHistoryItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Original string `json:"original"`
	}
	if err := util.DecodeJSON(r, &req); err != nil || req.Original == "" {
		util.WriteError(w, http.StatusBadRequest, "original is required")
		return
	}
	if err := a.history.Delete(r.Context(), req.Original); err != nil {
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// importHistory accepts either an exported array or {"history": [...]}.
func (a *App) importHistory(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := parseImport(body)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := a.history.Import(r.Context(), entries)
	if err != nil {
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	config.Logger.Info("history imported", "entries", n)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "imported": n})
}

func parseImport(body []byte) ([]history.Entry, error) {
	if !gjson.ValidBytes(body) {
		return nil, errInvalidImport
	}
	list := gjson.ParseBytes(body)
	if !list.IsArray() {
		list = list.Get("history")
	}
	if !list.IsArray() {
		return nil, errInvalidImport
	}
	var entries []history.Entry
	if err := json.Unmarshal([]byte(list.Raw), &entries); err != nil {
		return nil, errInvalidImport
	}
	return entries, nil
}

func (a *App) exportHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := a.history.List(r.Context())
	if err != nil {
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		util.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if util.ToBool(r.URL.Query().Get("download")) {
		name := "history_" + time.Now().Format("20060102") + ".json"
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
