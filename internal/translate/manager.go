package translate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"plainspeak/internal/config"
	"plainspeak/internal/delivery"
	"plainspeak/internal/history"
	"plainspeak/internal/protocol"
	"plainspeak/internal/sse"
	"plainspeak/internal/upstream"
)

// ErrEmptyText rejects a request with nothing to explain.
var ErrEmptyText = errors.New("nothing to explain: text is empty")

type SettingsSource interface {
	Settings(ctx context.Context) config.Settings
}

type Streamer interface {
	StreamChat(ctx context.Context, s config.Settings, prompt, requestID string) (io.ReadCloser, error)
}

type HistoryWriter interface {
	Save(ctx context.Context, e history.Entry) error
}

type Deliverer interface {
	Deliver(ctx context.Context, dest delivery.Destination, msg any) (delivery.Result, error)
}

// Request is one translation; it is not modified after Translate starts.
type Request struct {
	Text        string
	Destination delivery.Destination
}

// Manager runs translations, at most one per destination.
type Manager struct {
	registry *Registry
	settings SettingsSource
	upstream Streamer
	history  HistoryWriter
	out      Deliverer
}

func NewManager(registry *Registry, settings SettingsSource, up Streamer, hist HistoryWriter, out Deliverer) *Manager {
	return &Manager{
		registry: registry,
		settings: settings,
		upstream: up,
		history:  hist,
		out:      out,
	}
}

func (m *Manager) Registry() *Registry { return m.registry }

// Cleanup cancels the active request for dest, if any, without publishing.
func (m *Manager) Cleanup(dest delivery.Destination) {
	if m.registry.Cancel(dest) {
		config.Logger.Info("translation cancelled", "destination", dest.String())
	}
}

// Translate supersedes any active request for req.Destination and streams a
// new one to completion. It blocks until the stream ends, is cancelled, or
// fails. The returned error is non-nil only for failures shown to the user:
// empty text, missing API key, non-2xx upstream status and upstream policy
// errors. Cancellation and a vanished recipient return nil.
func (m *Manager) Translate(ctx context.Context, req Request) error {
	return m.Run(m.Start(ctx, req), req)
}

// Start registers req, cancelling whatever was active for its destination.
// Callers that stream in the background call Start in arrival order and then
// Run in a goroutine, so the newest request always wins. Every entry from
// Start must be passed to Run.
func (m *Manager) Start(ctx context.Context, req Request) *Entry {
	return m.registry.Begin(ctx, req.Destination)
}

// Run streams the request registered by Start. It has the same result
// contract as Translate.
func (m *Manager) Run(entry *Entry, req Request) error {
	defer m.registry.Finish(entry)

	log := config.Logger.With("request_id", entry.ID, "destination", entry.Dest.String())
	run := &run{m: m, entry: entry, dest: entry.Dest, log: log}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return run.fail(ErrEmptyText)
	}
	settings := m.settings.Settings(entry.Context())
	if settings.APIKey == "" {
		return run.fail(upstream.ErrMissingAPIKey)
	}

	log.Info("translation started", "model", settings.Model, "chars", len(text))
	body, err := m.upstream.StreamChat(entry.Context(), settings, settings.RenderPrompt(text), entry.ID)
	if err != nil {
		return run.handleError(err, sse.Snapshot{})
	}
	defer body.Close()

	snap, err := run.consume(body)
	if err != nil {
		return run.handleError(err, snap)
	}
	if run.aborted() {
		log.Info("translation aborted")
		return nil
	}

	run.publish(protocol.NewUpdate(snap.Answer, snap.Reasoning, snap.HasReasoning, true))
	if snap.Answer != "" && m.history != nil {
		e := history.Entry{
			Original:     text,
			Translated:   snap.Answer,
			Reasoning:    snap.Reasoning,
			HasReasoning: snap.Reasoning != "",
		}
		if err := m.history.Save(context.WithoutCancel(entry.Context()), e); err != nil {
			log.Error("save history failed", "error", err)
		}
	}
	log.Info("translation completed", "answer_chars", len(snap.Answer), "reasoning_chars", len(snap.Reasoning))
	return nil
}

// run is the per-request state of one Translate call.
type run struct {
	m     *Manager
	entry *Entry
	dest  delivery.Destination
	log   *slog.Logger
	// muted is set once a tab is found gone; the stream keeps running so
	// the result still reaches history.
	muted bool
}

func (r *run) aborted() bool {
	return r.entry.Cancelled()
}

// consume reads the body until the terminal marker, end of body, or abort,
// publishing at most once per network read.
func (r *run) consume(body io.Reader) (sse.Snapshot, error) {
	var acc sse.Accumulator
	ctx := r.entry.Context()
	batches, done := sse.StartBatchPump(ctx, body)
	for lines := range batches {
		res := acc.ApplyBatch(lines)
		if res.Publish {
			snap := res.Snapshot
			r.publish(protocol.NewUpdate(snap.Answer, snap.Reasoning, snap.HasReasoning, false))
			if r.aborted() {
				break
			}
		}
		// Returning early leaves the pump to exit on its own: the body is
		// closed and the entry context cancelled when Translate returns.
		if res.ErrorMessage != "" {
			return acc.Snapshot(), upstream.InlineError(res.ErrorMessage)
		}
		if res.Terminal {
			return acc.Snapshot(), nil
		}
	}
	if r.aborted() {
		return acc.Snapshot(), nil
	}
	if err := <-done; err != nil {
		return acc.Snapshot(), err
	}
	return acc.Snapshot(), nil
}

// publish delivers msg unless the entry was cancelled. A popup that is gone
// aborts the stream; a tab that is gone only mutes further deliveries.
func (r *run) publish(msg protocol.UpdateTranslation) {
	if r.muted {
		return
	}
	var (
		res delivery.Result
		err error
	)
	sent := r.entry.guard(func() {
		res, err = r.m.out.Deliver(r.entry.Context(), r.dest, msg)
	})
	if !sent {
		return
	}
	switch res {
	case delivery.RecipientAbsent:
		if r.dest.IsPopup() {
			r.log.Info("popup closed, aborting translation")
			r.entry.Cancel()
			return
		}
		r.log.Info("tab gone, muting further updates")
		r.muted = true
	case delivery.Failed:
		r.log.Warn("deliver update failed", "error", err)
	}
}

// handleError applies the failure policy: aborts and transport failures are
// absorbed, user-visible failures are published and returned.
func (r *run) handleError(err error, partial sse.Snapshot) error {
	if r.aborted() || errors.Is(err, context.Canceled) {
		r.log.Info("translation aborted")
		return nil
	}
	if upstream.IsUserVisible(err) {
		return r.fail(err)
	}
	// Not shown as an error, but the surface still gets a terminal update
	// so its controls are re-enabled.
	r.log.Error("translation stream failed", "error", err)
	r.publish(protocol.NewUpdate(partial.Answer, partial.Reasoning, partial.HasReasoning, true))
	return nil
}

func (r *run) fail(err error) error {
	r.log.Warn("translation rejected", "error", err)
	r.publish(protocol.NewErrorUpdate(err.Error()))
	return err
}
