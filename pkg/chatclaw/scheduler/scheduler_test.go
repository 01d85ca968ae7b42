package scheduler

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "reminders.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// deliveryRecorder collects delivered reminders.
type deliveryRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (d *deliveryRecorder) deliver(_, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts = append(d.texts, text)
}

func (d *deliveryRecorder) delivered() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.texts))
	copy(out, d.texts)
	return out
}

func newTestScheduler(t *testing.T, store *Store) (*Scheduler, *deliveryRecorder) {
	t.Helper()
	rec := &deliveryRecorder{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	s := New(store, rec.deliver, logger)
	t.Cleanup(s.Stop)
	return s, rec
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	fireAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	oneShot := &Reminder{
		ID:        "r1",
		ChatID:    "chat1",
		Text:      "stand-up",
		FireAt:    &fireAt,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	recurring := &Reminder{
		ID:        "r2",
		ChatID:    "chat2",
		Text:      "water the plants",
		CronExpr:  "0 9 * * *",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := store.Save(oneShot); err != nil {
		t.Fatalf("Save one-shot: %v", err)
	}
	if err := store.Save(recurring); err != nil {
		t.Fatalf("Save recurring: %v", err)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d reminders, want 2", len(loaded))
	}

	byID := map[string]*Reminder{}
	for _, r := range loaded {
		byID[r.ID] = r
	}

	got := byID["r1"]
	if got == nil || got.FireAt == nil || !got.FireAt.Equal(fireAt) {
		t.Errorf("one-shot round trip failed: %+v", got)
	}
	if got.Recurring() {
		t.Error("one-shot must not be recurring")
	}

	got = byID["r2"]
	if got == nil || got.CronExpr != "0 9 * * *" || !got.Recurring() {
		t.Errorf("recurring round trip failed: %+v", got)
	}
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	fireAt := time.Now().Add(time.Hour)
	store.Save(&Reminder{ID: "gone", ChatID: "c", Text: "x", FireAt: &fireAt, CreatedAt: time.Now()})

	if err := store.Delete("gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	loaded, _ := store.LoadAll()
	if len(loaded) != 0 {
		t.Errorf("expected empty store, got %d reminders", len(loaded))
	}
}

func TestSchedulerOneShotFires(t *testing.T) {
	store := newTestStore(t)
	s, rec := newTestScheduler(t, store)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := s.CreateOneShot("chat1", "tea is ready", time.Now().Add(100*time.Millisecond)); err != nil {
		t.Fatalf("CreateOneShot: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.delivered()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got := rec.delivered()
	if len(got) != 1 || got[0] != "tea is ready" {
		t.Fatalf("delivered = %v", got)
	}

	// Fired one-shots are removed from store and live set.
	loaded, _ := store.LoadAll()
	if len(loaded) != 0 {
		t.Errorf("fired one-shot should be deleted, store has %d", len(loaded))
	}
	if got := s.List("chat1"); len(got) != 0 {
		t.Errorf("fired one-shot still listed: %v", got)
	}
}

func TestSchedulerRejectsPastTimes(t *testing.T) {
	store := newTestStore(t)
	s, _ := newTestScheduler(t, store)

	if _, err := s.CreateOneShot("chat1", "too late", time.Now().Add(-time.Minute)); err == nil {
		t.Fatal("expected error for a time in the past")
	}
}

func TestSchedulerRejectsBadCron(t *testing.T) {
	store := newTestStore(t)
	s, _ := newTestScheduler(t, store)

	if _, err := s.CreateRecurring("chat1", "x", "not a cron line"); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestSchedulerListAndCancel(t *testing.T) {
	store := newTestStore(t)
	s, rec := newTestScheduler(t, store)

	r1, err := s.CreateOneShot("chat1", "first", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateOneShot: %v", err)
	}
	if _, err := s.CreateRecurring("chat1", "second", "0 9 * * *"); err != nil {
		t.Fatalf("CreateRecurring: %v", err)
	}
	if _, err := s.CreateRecurring("other-chat", "elsewhere", "0 9 * * *"); err != nil {
		t.Fatalf("CreateRecurring: %v", err)
	}

	listed := s.List("chat1")
	if len(listed) != 2 {
		t.Fatalf("List = %d reminders, want 2", len(listed))
	}
	if listed[0].Text != "first" || listed[1].Text != "second" {
		t.Errorf("unexpected list order: %v, %v", listed[0].Text, listed[1].Text)
	}

	if err := s.Cancel(r1.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := s.List("chat1"); len(got) != 1 {
		t.Errorf("after cancel List = %d, want 1", len(got))
	}
	if err := s.Cancel(r1.ID); err == nil {
		t.Error("cancelling twice should fail")
	}

	if len(rec.delivered()) != 0 {
		t.Errorf("nothing should have fired, got %v", rec.delivered())
	}
}

func TestSchedulerReloadsOnStart(t *testing.T) {
	store := newTestStore(t)

	fireAt := time.Now().Add(time.Hour).UTC()
	store.Save(&Reminder{ID: "persisted", ChatID: "chat1", Text: "still here", FireAt: &fireAt, CreatedAt: time.Now().UTC()})

	s, _ := newTestScheduler(t, store)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	listed := s.List("chat1")
	if len(listed) != 1 || listed[0].Text != "still here" {
		t.Errorf("persisted reminder not rescheduled: %v", listed)
	}
}
