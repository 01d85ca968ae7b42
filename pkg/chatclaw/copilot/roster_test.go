package copilot

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestRosterGetOrCreate(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	roster := NewRoster(nil, logger)
	ctx := context.Background()

	w, created, err := roster.GetOrCreate(ctx, "research")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Error("expected first call to create the worker")
	}
	if w.Name != "research" {
		t.Errorf("worker name = %q", w.Name)
	}

	same, created, err := roster.GetOrCreate(ctx, "research")
	if err != nil {
		t.Fatalf("GetOrCreate second call: %v", err)
	}
	if created {
		t.Error("expected second call to reuse the worker")
	}
	if same != w {
		t.Error("expected the same worker instance")
	}

	if roster.Count() != 1 {
		t.Errorf("Count = %d, want 1", roster.Count())
	}
}

func TestRosterInvalidNames(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	roster := NewRoster(nil, logger)
	ctx := context.Background()

	invalid := []string{
		"",
		" leading space",
		"semi;colon",
		"new\nline",
		"waaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaay-too-long-worker-name",
	}
	for _, name := range invalid {
		if _, _, err := roster.GetOrCreate(ctx, name); err == nil {
			t.Errorf("expected error for worker name %q", name)
		}
	}

	valid := []string{"a", "research", "email helper", "v2.worker", "data_sync-1"}
	for _, name := range valid {
		if _, _, err := roster.GetOrCreate(ctx, name); err != nil {
			t.Errorf("unexpected error for worker name %q: %v", name, err)
		}
	}
}

func TestRosterHydration(t *testing.T) {
	store := newTestLogStore(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx := context.Background()

	store.Save(ctx, "veteran", EntryRequest, "earlier request", "")
	store.Save(ctx, "veteran", EntryResponse, "earlier response", "")

	roster := NewRoster(store, logger)
	w, created, err := roster.GetOrCreate(ctx, "veteran")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Fatal("expected creation")
	}

	entries := w.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 hydrated entries, got %d", len(entries))
	}
	if entries[0].Content != "earlier request" || entries[1].Content != "earlier response" {
		t.Errorf("unexpected hydration order: %+v", entries)
	}
}

func TestRosterRecordPersistence(t *testing.T) {
	store := newTestLogStore(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx := context.Background()

	roster := NewRoster(store, logger)
	w, _, err := roster.GetOrCreate(ctx, "scribe")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	roster.Record(ctx, w, EntryRequest, "do a thing")
	roster.Record(ctx, w, EntryToolResponse, "raw tool output")
	roster.Record(ctx, w, EntryResponse, "done")

	// All three live in memory.
	if got := len(w.Entries()); got != 3 {
		t.Errorf("in-memory entries = %d, want 3", got)
	}

	// Tool responses are not persisted.
	persisted, err := store.LoadHistory(ctx, "scribe", 10)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(persisted) != 2 {
		t.Fatalf("persisted entries = %d, want 2", len(persisted))
	}
	for _, e := range persisted {
		if e.Type == EntryToolResponse {
			t.Error("tool response should not be persisted")
		}
	}
}

func TestWorkerRecentEntries(t *testing.T) {
	w := &Worker{Name: "w"}
	base := time.Now()
	for i := 0; i < 5; i++ {
		w.Append(EntryAction, string(rune('a'+i)), base.Add(time.Duration(i)*time.Second))
	}

	recent := w.RecentEntries(2)
	if len(recent) != 2 {
		t.Fatalf("RecentEntries(2) returned %d", len(recent))
	}
	if recent[0].Content != "d" || recent[1].Content != "e" {
		t.Errorf("unexpected recent entries: %+v", recent)
	}

	all := w.RecentEntries(10)
	if len(all) != 5 {
		t.Errorf("RecentEntries(10) returned %d, want all 5", len(all))
	}
}
