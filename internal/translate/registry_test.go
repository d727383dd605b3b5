package translate

import (
	"context"
	"testing"
	"time"

	"plainspeak/internal/delivery"
)

func fixedClock() func() time.Time {
	t0 := time.Unix(1700000000, 0)
	return func() time.Time { return t0 }
}

func TestRegistryBeginCancelsPreviousEntry(t *testing.T) {
	r := NewRegistry(fixedClock())
	first := r.Begin(context.Background(), delivery.Tab(1))
	second := r.Begin(context.Background(), delivery.Tab(1))
	if !first.Cancelled() {
		t.Fatal("expected first entry cancelled")
	}
	if second.Cancelled() {
		t.Fatal("expected second entry active")
	}
	if active := r.Active(); len(active) != 1 || active[0].ID != second.ID {
		t.Fatalf("expected second entry registered, got %#v", active)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one entry, got %d", r.Len())
	}
}

func TestRegistryKeepsDestinationsIndependent(t *testing.T) {
	r := NewRegistry(fixedClock())
	tab := r.Begin(context.Background(), delivery.Tab(1))
	popup := r.Begin(context.Background(), delivery.Popup())
	other := r.Begin(context.Background(), delivery.Tab(2))
	if tab.Cancelled() || popup.Cancelled() || other.Cancelled() {
		t.Fatal("entries for different destinations must not cancel each other")
	}
	active := r.Active()
	if len(active) != 3 {
		t.Fatalf("expected 3 active entries, got %d", len(active))
	}
	if active[0].Destination != "popup" || active[1].Destination != "tab:1" {
		t.Fatalf("unexpected order: %#v", active)
	}
}

func TestRegistryFinishIgnoresSupersededEntry(t *testing.T) {
	r := NewRegistry(fixedClock())
	first := r.Begin(context.Background(), delivery.Popup())
	second := r.Begin(context.Background(), delivery.Popup())
	r.Finish(first)
	if active := r.Active(); len(active) != 1 || active[0].ID != second.ID {
		t.Fatal("finishing a superseded entry must not remove the active one")
	}
	r.Finish(second)
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistryCancel(t *testing.T) {
	r := NewRegistry(fixedClock())
	e := r.Begin(context.Background(), delivery.Tab(4))
	if !r.Cancel(delivery.Tab(4)) {
		t.Fatal("expected an entry to cancel")
	}
	if !e.Cancelled() || e.Context().Err() == nil {
		t.Fatal("expected entry context cancelled")
	}
	if r.Cancel(delivery.Tab(4)) {
		t.Fatal("expected nothing left to cancel")
	}
}

func TestEntryGuardBlocksAfterCancel(t *testing.T) {
	r := NewRegistry(fixedClock())
	e := r.Begin(context.Background(), delivery.Tab(1))
	ran := false
	if !e.guard(func() { ran = true }) || !ran {
		t.Fatal("expected guard to run before cancel")
	}
	e.Cancel()
	if e.guard(func() { t.Fatal("guard ran after cancel") }) {
		t.Fatal("expected guard to refuse after cancel")
	}
}

func TestStalledPublishDoesNotBlockOtherDestinations(t *testing.T) {
	r := NewRegistry(fixedClock())
	stalled := r.Begin(context.Background(), delivery.Tab(1))
	inPublish := make(chan struct{})
	release := make(chan struct{})
	go stalled.guard(func() {
		close(inPublish)
		<-release
	})
	<-inPublish

	cancelled := make(chan struct{})
	go func() {
		r.Cancel(delivery.Tab(1))
		close(cancelled)
	}()
	deadline := time.Now().Add(time.Second)
	for stalled.Context().Err() == nil {
		if time.Now().After(deadline) {
			t.Fatal("expected the stalled entry's context cancelled before its publish ends")
		}
		time.Sleep(time.Millisecond)
	}

	begun := make(chan struct{})
	go func() {
		r.Begin(context.Background(), delivery.Tab(2))
		_ = r.Active()
		close(begun)
	}()
	select {
	case <-begun:
	case <-time.After(time.Second):
		t.Fatal("Begin on another destination blocked behind a stalled publish")
	}
	select {
	case <-cancelled:
		t.Fatal("Cancel returned while a publish was still in flight")
	default:
	}

	close(release)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("Cancel did not return after the publish finished")
	}
	if stalled.guard(func() {}) {
		t.Fatal("expected no publish after cancel")
	}
}
