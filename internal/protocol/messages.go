// Package protocol defines the JSON messages exchanged with UI surfaces.
package protocol

import "plainspeak/internal/history"

const (
	ActionTranslate            = "translate"
	ActionUpdateTranslation    = "updateTranslation"
	ActionCleanup              = "cleanup"
	ActionShowTranslationPopup = "showTranslationPopup"
	ActionGetHistory           = "getHistory"
	ActionDeleteHistoryItem    = "deleteHistoryItem"
	ActionClearHistory         = "clearHistory"
	ActionImportHistory        = "importHistory"
	ActionResponse             = "response"

	// SourcePopup marks a translate request coming from the popup.
	SourcePopup = "popup"
)

// Inbound is any message a surface sends. Only the fields relevant to the
// action are set.
type Inbound struct {
	ID       string          `json:"id,omitempty"`
	Action   string          `json:"action"`
	Text     string          `json:"text,omitempty"`
	Source   string          `json:"source,omitempty"`
	Original string          `json:"original,omitempty"`
	History  []history.Entry `json:"history,omitempty"`
}

// UpdateTranslation carries the full accumulated state; surfaces replace
// what they display with it.
type UpdateTranslation struct {
	Action           string `json:"action"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoningContent,omitempty"`
	HasReasoning     bool   `json:"hasReasoning,omitempty"`
	Done             bool   `json:"done"`
	Error            string `json:"error,omitempty"`
}

func NewUpdate(content, reasoning string, hasReasoning, done bool) UpdateTranslation {
	return UpdateTranslation{
		Action:           ActionUpdateTranslation,
		Content:          content,
		ReasoningContent: reasoning,
		HasReasoning:     hasReasoning,
		Done:             done,
	}
}

func NewErrorUpdate(msg string) UpdateTranslation {
	return UpdateTranslation{Action: ActionUpdateTranslation, Done: true, Error: msg}
}

type ShowTranslationPopup struct {
	Action string `json:"action"`
	Text   string `json:"text"`
}

func NewShowTranslationPopup(text string) ShowTranslationPopup {
	return ShowTranslationPopup{Action: ActionShowTranslationPopup, Text: text}
}

// Response acknowledges an Inbound message with the same ID.
type Response struct {
	Action  string          `json:"action"`
	ID      string          `json:"id,omitempty"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	History []history.Entry `json:"history"`
}

func OK(id string) Response {
	return Response{Action: ActionResponse, ID: id, Success: true}
}

// OKHistory answers getHistory. An empty history is sent as [].
func OKHistory(id string, entries []history.Entry) Response {
	if entries == nil {
		entries = []history.Entry{}
	}
	r := OK(id)
	r.History = entries
	return r
}

func Fail(id string, err error) Response {
	r := Response{Action: ActionResponse, ID: id}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
