// Package scheduler delivers reminders back into conversations. Recurring
// reminders run on cron expressions; one-shots fire on a timer. Pending
// reminders are reloaded from the store on startup.
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DeliverFunc pushes a due reminder text into a conversation.
type DeliverFunc func(chatID, text string)

// entryRef tracks how a live reminder is scheduled.
type entryRef struct {
	reminder *Reminder
	cronID   cron.EntryID
	timer    *time.Timer
}

// Scheduler owns the live reminder set.
type Scheduler struct {
	store   *Store
	deliver DeliverFunc
	cron    *cron.Cron
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entryRef
	started bool
}

// New creates a scheduler. deliver is invoked for every due reminder.
func New(store *Store, deliver DeliverFunc, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		deliver: deliver,
		cron:    cron.New(),
		logger:  logger.With("component", "scheduler"),
		entries: make(map[string]*entryRef),
	}
}

// Start loads persisted reminders and begins firing. One-shots whose time
// already passed are delivered immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	reminders, err := s.store.LoadAll()
	if err != nil {
		return fmt.Errorf("loading reminders: %w", err)
	}
	for _, r := range reminders {
		if err := s.schedule(r); err != nil {
			s.logger.Warn("could not reschedule reminder", "id", r.ID, "error", err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "reminders", len(reminders))
	return nil
}

// Stop halts all schedules. In-flight deliveries complete.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	s.started = false
}

// CreateOneShot schedules a single delivery at the given time.
func (s *Scheduler) CreateOneShot(chatID, text string, at time.Time) (*Reminder, error) {
	if !at.After(time.Now()) {
		return nil, fmt.Errorf("reminder time %s is in the past", at.Format(time.RFC3339))
	}
	r := &Reminder{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Text:      text,
		FireAt:    &at,
		CreatedAt: time.Now(),
	}
	if err := s.store.Save(r); err != nil {
		return nil, err
	}
	if err := s.schedule(r); err != nil {
		return nil, err
	}
	s.logger.Info("reminder created", "id", r.ID, "fire_at", at)
	return r, nil
}

// CreateRecurring schedules deliveries on a cron expression.
func (s *Scheduler) CreateRecurring(chatID, text, cronExpr string) (*Reminder, error) {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	r := &Reminder{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Text:      text,
		CronExpr:  cronExpr,
		CreatedAt: time.Now(),
	}
	if err := s.store.Save(r); err != nil {
		return nil, err
	}
	if err := s.schedule(r); err != nil {
		return nil, err
	}
	s.logger.Info("recurring reminder created", "id", r.ID, "cron", cronExpr)
	return r, nil
}

// List returns the live reminders for one chat, oldest first.
func (s *Scheduler) List(chatID string) []*Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Reminder
	for _, e := range s.entries {
		if e.reminder.ChatID == chatID {
			out = append(out, e.reminder)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Cancel removes a reminder by ID.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		if e.cronID != 0 {
			s.cron.Remove(e.cronID)
		}
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("reminder %q not found", id)
	}
	if err := s.store.Delete(id); err != nil {
		return err
	}
	s.logger.Info("reminder cancelled", "id", id)
	return nil
}

// schedule registers a reminder with cron or a timer.
func (s *Scheduler) schedule(r *Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entryRef{reminder: r}

	if r.Recurring() {
		id, err := s.cron.AddFunc(r.CronExpr, func() { s.fire(r, false) })
		if err != nil {
			return err
		}
		e.cronID = id
	} else {
		delay := time.Until(*r.FireAt)
		if delay < 0 {
			delay = 0
		}
		e.timer = time.AfterFunc(delay, func() { s.fire(r, true) })
	}

	s.entries[r.ID] = e
	return nil
}

// fire delivers one due reminder. One-shots are removed afterwards.
func (s *Scheduler) fire(r *Reminder, oneShot bool) {
	s.logger.Debug("reminder due", "id", r.ID, "chat", r.ChatID)
	s.deliver(r.ChatID, r.Text)

	if oneShot {
		s.mu.Lock()
		delete(s.entries, r.ID)
		s.mu.Unlock()
		if err := s.store.Delete(r.ID); err != nil {
			s.logger.Warn("could not remove fired reminder", "id", r.ID, "error", err)
		}
	}
}
