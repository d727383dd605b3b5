package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"plainspeak/internal/config"
	"plainspeak/internal/delivery"
	"plainspeak/internal/protocol"
	"plainspeak/internal/translate"
)

const maxFrameBytes = 1 << 20

var (
	errRateLimited   = errors.New("too many translate requests, slow down")
	errUnknownAction = errors.New("unknown action")
)

// allowOrigin accepts browser extension pages, same-host pages and
// non-browser clients, which send no Origin header.
func allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if strings.HasPrefix(origin, "chrome-extension://") || strings.HasPrefix(origin, "moz-extension://") {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

func parseSurface(q url.Values) (delivery.Destination, error) {
	switch q.Get("surface") {
	case "tab":
		id, err := strconv.Atoi(q.Get("tab"))
		if err != nil || id < 0 {
			return delivery.Destination{}, errors.New("tab surface needs a non-negative tab id")
		}
		return delivery.Tab(id), nil
	case "popup":
		return delivery.Popup(), nil
	default:
		return delivery.Destination{}, errors.New("surface must be tab or popup")
	}
}

func (a *App) serveWS(w http.ResponseWriter, r *http.Request) {
	dest, err := parseSurface(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": err.Error()})
		return
	}
	raw, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		config.Logger.Warn("websocket upgrade failed", "destination", dest.String(), "error", err)
		return
	}
	raw.SetReadLimit(maxFrameBytes)
	conn := delivery.NewWSConn(raw)
	s := &session{
		app:     a,
		conn:    conn,
		dest:    dest,
		limiter: rate.NewLimiter(rate.Limit(a.rt.TranslateRate), a.rt.TranslateBurst),
		log:     config.Logger.With("conn", conn.ID(), "destination", dest.String()),
	}
	s.attach()
	defer s.detach()
	conn.KeepAlive()
	s.readLoop()
}

// session is one connected surface.
type session struct {
	app     *App
	conn    *delivery.WSConn
	dest    delivery.Destination
	limiter *rate.Limiter
	log     *slog.Logger
}

func (s *session) attach() {
	if s.dest.IsPopup() {
		s.app.hub.AttachPopup(s.conn)
	} else if prev := s.app.hub.AttachTab(s.dest.TabID, s.conn); prev != nil {
		// A reloaded page reconnects under the same tab id.
		if c, ok := prev.(*delivery.WSConn); ok {
			c.Close()
		}
		s.log.Info("tab connection replaced", "previous", prev.ID())
	}
	s.log.Info("surface connected")
}

// detach unregisters the connection. Losing a tab's connection, or the last
// popup, is teardown for that destination.
func (s *session) detach() {
	s.conn.Close()
	if s.dest.IsPopup() {
		if s.app.hub.DetachPopup(s.conn) == 0 {
			s.app.manager.Cleanup(delivery.Popup())
		}
	} else if s.app.hub.DetachTab(s.dest.TabID, s.conn) {
		s.app.manager.Cleanup(s.dest)
	}
	s.log.Info("surface disconnected")
}

func (s *session) readLoop() {
	for {
		var msg protocol.Inbound
		if err := s.conn.ReadJSON(&msg); err != nil {
			var se *json.SyntaxError
			var te *json.UnmarshalTypeError
			if errors.As(err, &se) || errors.As(err, &te) {
				s.reply(protocol.Fail("", errors.New("invalid message")))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("websocket read failed", "error", err)
			}
			return
		}
		s.reply(s.handle(msg))
	}
}

func (s *session) handle(msg protocol.Inbound) protocol.Response {
	ctx := s.app.base
	switch msg.Action {
	case protocol.ActionTranslate:
		return s.translate(msg)
	case protocol.ActionCleanup:
		s.app.manager.Cleanup(s.dest)
		return protocol.OK(msg.ID)
	case protocol.ActionGetHistory:
		entries, err := s.app.history.List(ctx)
		if err != nil {
			return protocol.Fail(msg.ID, err)
		}
		return protocol.OKHistory(msg.ID, entries)
	case protocol.ActionDeleteHistoryItem:
		return result(msg.ID, s.app.history.Delete(ctx, msg.Original))
	case protocol.ActionClearHistory:
		return result(msg.ID, s.app.history.Clear(ctx))
	case protocol.ActionImportHistory:
		_, err := s.app.history.Import(ctx, msg.History)
		return result(msg.ID, err)
	default:
		return protocol.Fail(msg.ID, errUnknownAction)
	}
}

// translate starts a translation in the background; its progress arrives as
// updateTranslation messages.
func (s *session) translate(msg protocol.Inbound) protocol.Response {
	if strings.TrimSpace(msg.Text) == "" {
		return protocol.Fail(msg.ID, translate.ErrEmptyText)
	}
	if !s.limiter.Allow() {
		s.log.Warn("translate rate limited")
		return protocol.Fail(msg.ID, errRateLimited)
	}
	dest := s.dest
	if msg.Source == protocol.SourcePopup {
		dest = delivery.Popup()
	}
	// Registration runs on the read goroutine so frames supersede each other
	// in arrival order; only the streaming runs in the background.
	req := translate.Request{Text: msg.Text, Destination: dest}
	entry := s.app.manager.Start(s.app.base, req)
	go func() {
		_ = s.app.manager.Run(entry, req)
	}()
	return protocol.OK(msg.ID)
}

func (s *session) reply(resp protocol.Response) {
	if err := s.conn.Send(context.Background(), resp); err != nil && !errors.Is(err, delivery.ErrRecipientGone) {
		s.log.Warn("send response failed", "error", err)
	}
}

func result(id string, err error) protocol.Response {
	if err != nil {
		return protocol.Fail(id, err)
	}
	return protocol.OK(id)
}
