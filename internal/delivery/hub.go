package delivery

import (
	"context"
	"errors"
	"sync"
)

// Result is the outcome of one delivery attempt.
type Result int

const (
	Delivered Result = iota
	// RecipientAbsent means the tab or popup is gone. It is not an error.
	RecipientAbsent
	Failed
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case RecipientAbsent:
		return "recipient_absent"
	default:
		return "failed"
	}
}

// ErrRecipientGone is returned by a Conn whose peer has disconnected.
var ErrRecipientGone = errors.New("delivery: recipient is gone")

// Conn is one connected surface.
type Conn interface {
	ID() string
	Send(ctx context.Context, msg any) error
}

// Hub tracks connected surfaces and routes messages to them: tab messages
// to the connection registered for that tab, popup messages to every open
// popup.
type Hub struct {
	mu     sync.RWMutex
	tabs   map[int]Conn
	popups map[string]Conn
}

func NewHub() *Hub {
	return &Hub{
		tabs:   make(map[int]Conn),
		popups: make(map[string]Conn),
	}
}

// AttachTab registers c for tabID and returns the connection it replaced,
// if any.
func (h *Hub) AttachTab(tabID int, c Conn) Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.tabs[tabID]
	h.tabs[tabID] = c
	return prev
}

// DetachTab removes c if it is still the tab's current connection. It
// reports whether the tab is now without a connection.
func (h *Hub) DetachTab(tabID int, c Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.tabs[tabID]
	if !ok {
		return true
	}
	if cur.ID() != c.ID() {
		return false
	}
	delete(h.tabs, tabID)
	return true
}

func (h *Hub) AttachPopup(c Conn) {
	h.mu.Lock()
	h.popups[c.ID()] = c
	h.mu.Unlock()
}

// DetachPopup removes c and returns how many popups remain open.
func (h *Hub) DetachPopup(c Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.popups, c.ID())
	return len(h.popups)
}

func (h *Hub) HasTab(tabID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.tabs[tabID]
	return ok
}

func (h *Hub) Counts() (tabs, popups int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tabs), len(h.popups)
}

// Deliver sends msg to dest. A missing or disconnected recipient yields
// RecipientAbsent with a nil error; only other send failures are Failed.
func (h *Hub) Deliver(ctx context.Context, dest Destination, msg any) (Result, error) {
	switch dest.Kind {
	case KindTab:
		h.mu.RLock()
		c, ok := h.tabs[dest.TabID]
		h.mu.RUnlock()
		if !ok {
			return RecipientAbsent, nil
		}
		return classify(c.Send(ctx, msg))
	case KindPopup:
		h.mu.RLock()
		conns := make([]Conn, 0, len(h.popups))
		for _, c := range h.popups {
			conns = append(conns, c)
		}
		h.mu.RUnlock()
		if len(conns) == 0 {
			return RecipientAbsent, nil
		}
		result := RecipientAbsent
		var firstErr error
		for _, c := range conns {
			r, err := classify(c.Send(ctx, msg))
			switch r {
			case Delivered:
				result = Delivered
			case Failed:
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		if result == Delivered || firstErr == nil {
			return result, nil
		}
		return Failed, firstErr
	default:
		return Failed, errors.New("delivery: unknown destination")
	}
}

func classify(err error) (Result, error) {
	switch {
	case err == nil:
		return Delivered, nil
	case errors.Is(err, ErrRecipientGone):
		return RecipientAbsent, nil
	default:
		return Failed, err
	}
}
