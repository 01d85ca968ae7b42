// Package scheduler – store.go persists reminders in SQLite so scheduled
// deliveries survive restarts.
package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// Reminder is one scheduled delivery.
type Reminder struct {
	ID     string
	ChatID string
	Text   string

	// CronExpr is set for recurring reminders; FireAt for one-shots.
	CronExpr string
	FireAt   *time.Time

	CreatedAt time.Time
}

// Recurring reports whether the reminder repeats.
func (r *Reminder) Recurring() bool { return r.CronExpr != "" }

// Store is the SQLite-backed reminder store.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the reminder database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS reminders (
			id         TEXT PRIMARY KEY,
			chat_id    TEXT NOT NULL,
			text       TEXT NOT NULL,
			cron_expr  TEXT NOT NULL DEFAULT '',
			fire_at    DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save persists a reminder (insert or replace).
func (s *Store) Save(r *Reminder) error {
	var fireAt sql.NullString
	if r.FireAt != nil {
		fireAt = sql.NullString{String: r.FireAt.UTC().Format(time.RFC3339), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO reminders (id, chat_id, text, cron_expr, fire_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ChatID, r.Text, r.CronExpr, fireAt, r.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save reminder %q: %w", r.ID, err)
	}
	return nil
}

// Delete removes a reminder by ID.
func (s *Store) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reminder %q: %w", id, err)
	}
	return nil
}

// LoadAll reads every persisted reminder.
func (s *Store) LoadAll() ([]*Reminder, error) {
	rows, err := s.db.Query(`
		SELECT id, chat_id, text, cron_expr, fire_at, created_at
		FROM reminders ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load reminders: %w", err)
	}
	defer rows.Close()

	var out []*Reminder
	for rows.Next() {
		var (
			r         Reminder
			fireAt    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Text, &r.CronExpr, &fireAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		if fireAt.Valid {
			if t, err := time.Parse(time.RFC3339, fireAt.String); err == nil {
				r.FireAt = &t
			}
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			r.CreatedAt = t
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }
