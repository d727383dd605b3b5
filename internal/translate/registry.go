package translate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"plainspeak/internal/delivery"
)

// Entry is one active request. Its publishes and its cancellation are
// serialized, so once Cancel returns no further publish can happen.
type Entry struct {
	ID        string
	Dest      delivery.Destination
	StartedAt time.Time

	ctx      context.Context
	cancelFn context.CancelFunc

	mu        sync.Mutex
	cancelled bool
}

func (e *Entry) Context() context.Context { return e.ctx }

// Cancel aborts the request. The context is cancelled first so no new
// publish can start; then it waits for an in-progress publish to finish.
func (e *Entry) Cancel() {
	e.cancelFn()
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
}

// Cancelled reports whether the entry was cancelled or its context ended.
func (e *Entry) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled || e.ctx.Err() != nil
}

// guard runs fn unless the entry has been cancelled.
func (e *Entry) guard(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelled || e.ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

// Status is a read-only view of an active entry.
type Status struct {
	ID          string `json:"id"`
	Destination string `json:"destination"`
	StartedAt   int64  `json:"started_at"`
}

// Registry owns the active request per destination. There is never more
// than one live entry for a destination.
type Registry struct {
	mu      sync.Mutex
	entries map[delivery.Destination]*Entry
	now     func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{entries: make(map[delivery.Destination]*Entry), now: now}
}

// Begin cancels and removes any active entry for dest, then registers a new
// one derived from parent. The swap happens under one lock. The wait for the
// old entry's in-flight publish happens after the lock is released, so a
// stalled delivery never blocks other destinations. When Begin returns the
// old entry can no longer publish.
func (r *Registry) Begin(parent context.Context, dest delivery.Destination) *Entry {
	ctx, cancel := context.WithCancel(parent)
	e := &Entry{
		ID:        uuid.NewString(),
		Dest:      dest,
		StartedAt: r.now(),
		ctx:       ctx,
		cancelFn:  cancel,
	}
	r.mu.Lock()
	old, ok := r.entries[dest]
	if ok {
		old.cancelFn()
	}
	r.entries[dest] = e
	r.mu.Unlock()
	if ok {
		old.Cancel()
	}
	return e
}

// Cancel aborts and removes the active entry for dest. It reports whether
// there was one.
func (r *Registry) Cancel(dest delivery.Destination) bool {
	r.mu.Lock()
	e, ok := r.entries[dest]
	if ok {
		e.cancelFn()
		delete(r.entries, dest)
	}
	r.mu.Unlock()
	if ok {
		e.Cancel()
	}
	return ok
}

// Finish removes e if it is still the active entry for its destination and
// releases its context.
func (r *Registry) Finish(e *Entry) {
	r.mu.Lock()
	if cur, ok := r.entries[e.Dest]; ok && cur == e {
		delete(r.entries, e.Dest)
	}
	r.mu.Unlock()
	e.cancelFn()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Active lists active entries, oldest first.
func (r *Registry) Active() []Status {
	r.mu.Lock()
	out := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Status{ID: e.ID, Destination: e.Dest.String(), StartedAt: e.StartedAt.Unix()})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt != out[j].StartedAt {
			return out[i].StartedAt < out[j].StartedAt
		}
		return out[i].Destination < out[j].Destination
	})
	return out
}
