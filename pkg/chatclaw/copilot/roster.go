// Package copilot – roster.go holds the in-memory worker roster. Workers are
// named, stateful helpers created on first use and rehydrated from the log
// store so their recent activity survives restarts.
package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"
)

// hydrationLimit is how many recent log entries a freshly created worker
// loads from the store.
const hydrationLimit = 50

// WorkerEntry is one in-memory activity record of a worker.
type WorkerEntry struct {
	Type      EntryType
	Content   string
	Timestamp time.Time
}

// Worker is one named helper with its activity log.
type Worker struct {
	Name string

	mu      sync.Mutex
	entries []WorkerEntry
}

// Append adds an entry to the worker's in-memory log.
func (w *Worker) Append(entryType EntryType, content string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, WorkerEntry{Type: entryType, Content: content, Timestamp: at})
}

// Entries returns a snapshot of the worker's activity log.
func (w *Worker) Entries() []WorkerEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]WorkerEntry, len(w.entries))
	copy(out, w.entries)
	return out
}

// RecentEntries returns at most n of the newest entries, oldest first.
func (w *Worker) RecentEntries(n int) []WorkerEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n <= 0 || len(w.entries) <= n {
		out := make([]WorkerEntry, len(w.entries))
		copy(out, w.entries)
		return out
	}
	out := make([]WorkerEntry, n)
	copy(out, w.entries[len(w.entries)-n:])
	return out
}

// workerNameRe constrains worker names to something safe for logs and SQL
// parameters alike.
var workerNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9 _.-]{0,63}$`)

// Roster manages the set of live workers.
type Roster struct {
	store  *LogStore
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*Worker
}

// NewRoster creates an empty roster backed by the given log store. The store
// may be nil, in which case workers start with no history and nothing is
// persisted.
func NewRoster(store *LogStore, logger *slog.Logger) *Roster {
	return &Roster{
		store:   store,
		logger:  logger.With("component", "roster"),
		workers: make(map[string]*Worker),
	}
}

// GetOrCreate returns the worker with the given name, creating and hydrating
// it on first use. The second return value reports whether the worker was
// created by this call.
func (r *Roster) GetOrCreate(ctx context.Context, name string) (*Worker, bool, error) {
	if !workerNameRe.MatchString(name) {
		return nil, false, fmt.Errorf("invalid worker name %q", name)
	}

	r.mu.Lock()
	if w, ok := r.workers[name]; ok {
		r.mu.Unlock()
		return w, false, nil
	}
	w := &Worker{Name: name}
	r.workers[name] = w
	r.mu.Unlock()

	if r.store != nil {
		history, err := r.store.LoadHistory(ctx, name, hydrationLimit)
		if err != nil {
			r.logger.Warn("worker hydration failed", "worker", name, "error", err)
		} else {
			for _, e := range history {
				w.Append(e.Type, e.Content, e.CreatedAt)
			}
		}
	}

	r.logger.Info("worker created", "worker", name)
	return w, true, nil
}

// Get returns an existing worker, or nil if none with that name is live.
func (r *Roster) Get(name string) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workers[name]
}

// Names returns the sorted names of all live workers.
func (r *Roster) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of live workers.
func (r *Roster) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Record appends an entry to a worker and, when a store is configured,
// persists it. Tool responses are kept in memory only.
func (r *Roster) Record(ctx context.Context, w *Worker, entryType EntryType, content string) {
	now := time.Now()
	w.Append(entryType, content, now)
	if r.store == nil || entryType == EntryToolResponse {
		return
	}
	if err := r.store.Save(ctx, w.Name, entryType, content, ""); err != nil {
		r.logger.Warn("failed to persist worker entry", "worker", w.Name, "type", entryType, "error", err)
	}
}
