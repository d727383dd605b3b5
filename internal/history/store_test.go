package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveUpsertsByOriginalAndMovesToFront(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, e := range []Entry{
		{Original: "a", Translated: "A1"},
		{Original: "b", Translated: "B"},
		{Original: "a", Translated: "A2", Reasoning: "why"},
	} {
		if err := s.Save(ctx, e); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d: %#v", len(list), list)
	}
	if list[0].Original != "a" || list[0].Translated != "A2" || !list[0].HasReasoning {
		t.Fatalf("expected updated entry first, got %#v", list[0])
	}
	if list[1].Original != "b" {
		t.Fatalf("unexpected second entry: %#v", list[1])
	}
	if list[0].Timestamp == 0 {
		t.Fatal("expected timestamp to be set")
	}
}

func TestSaveCapsHistoryEvictingOldest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < MaxEntries+5; i++ {
		if err := s.Save(ctx, Entry{Original: fmt.Sprintf("item-%d", i), Translated: "x"}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != MaxEntries {
		t.Fatalf("expected %d entries, got %d", MaxEntries, len(list))
	}
	if list[0].Original != fmt.Sprintf("item-%d", MaxEntries+4) {
		t.Fatalf("unexpected newest entry: %q", list[0].Original)
	}
	if list[len(list)-1].Original != "item-5" {
		t.Fatalf("expected oldest five evicted, last is %q", list[len(list)-1].Original)
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_ = s.Save(ctx, Entry{Original: "a", Translated: "A"})
	_ = s.Save(ctx, Entry{Original: "b", Translated: "B"})
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, _ := s.List(ctx)
	if len(list) != 1 || list[0].Original != "b" {
		t.Fatalf("unexpected list after delete: %#v", list)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	list, _ = s.List(ctx)
	if len(list) != 0 {
		t.Fatalf("expected empty history, got %#v", list)
	}
}

func TestImportKeepsOrderAndUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_ = s.Save(ctx, Entry{Original: "old", Translated: "O"})
	_ = s.Save(ctx, Entry{Original: "dup", Translated: "stale"})

	n, err := s.Import(ctx, []Entry{
		{Original: "x", Translated: "X", Timestamp: 3},
		{Original: "dup", Translated: "fresh", Timestamp: 2},
		{Original: "  ", Translated: "skipped"},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 imported, got %d", n)
	}
	list, _ := s.List(ctx)
	got := make([]string, 0, len(list))
	for _, e := range list {
		got = append(got, e.Original+"="+e.Translated)
	}
	want := []string{"x=X", "dup=fresh", "old=O"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
