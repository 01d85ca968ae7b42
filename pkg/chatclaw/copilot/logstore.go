// Package copilot – logstore.go implements the SQLite-backed worker log.
// Every worker request, action and response is appended here so workers can
// be rehydrated with their recent activity after a restart.
package copilot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// EntryType classifies a worker log entry.
type EntryType string

const (
	EntryRequest      EntryType = "request"
	EntryAction       EntryType = "action"
	EntryToolResponse EntryType = "tool_response"
	EntryResponse     EntryType = "response"
)

// LogEntry is one persisted row of worker activity.
type LogEntry struct {
	ID         int64
	WorkerName string
	Type       EntryType
	Content    string
	Metadata   string
	CreatedAt  time.Time
}

// LogStore persists worker activity in SQLite.
type LogStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLogStore opens or creates the worker log database at dbPath.
func NewLogStore(dbPath string, logger *slog.Logger) (*LogStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	store := &LogStore{db: db, logger: logger.With("component", "logstore")}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *LogStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS worker_log (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			worker_name TEXT NOT NULL,
			entry_type  TEXT NOT NULL,
			content     TEXT NOT NULL,
			metadata    TEXT NOT NULL DEFAULT '',
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_worker_log_name
			ON worker_log (worker_name, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save appends one entry for a worker.
func (s *LogStore) Save(ctx context.Context, workerName string, entryType EntryType, content, metadata string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_log (worker_name, entry_type, content, metadata)
		VALUES (?, ?, ?, ?)
	`, workerName, string(entryType), content, metadata)
	if err != nil {
		return fmt.Errorf("save log entry: %w", err)
	}
	return nil
}

// LoadHistory returns the most recent limit entries for a worker in
// chronological order (oldest first).
func (s *LogStore) LoadHistory(ctx context.Context, workerName string, limit int) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, worker_name, entry_type, content, metadata, created_at
		FROM worker_log
		WHERE worker_name = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, workerName, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var et string
		if err := rows.Scan(&e.ID, &e.WorkerName, &et, &e.Content, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Type = EntryType(et)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows came back newest-first; flip to chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ListWorkers returns the distinct worker names present in the log together
// with their entry counts.
func (s *LogStore) ListWorkers(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_name, COUNT(*)
		FROM worker_log
		GROUP BY worker_name
		ORDER BY worker_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// Clear removes all entries for one worker.
func (s *LogStore) Clear(ctx context.Context, workerName string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM worker_log WHERE worker_name = ?`, workerName)
	if err != nil {
		return 0, fmt.Errorf("clear worker log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Prune keeps at most maxEntries recent entries per worker and deletes the
// rest. Returns the number of deleted rows.
func (s *LogStore) Prune(ctx context.Context, maxEntries int) (int64, error) {
	if maxEntries <= 0 {
		return 0, nil
	}

	names, err := s.ListWorkers(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for name := range names {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM worker_log
			WHERE worker_name = ? AND id NOT IN (
				SELECT id FROM worker_log
				WHERE worker_name = ?
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			)
		`, name, name, maxEntries)
		if err != nil {
			return total, fmt.Errorf("prune worker %s: %w", name, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		s.logger.Debug("pruned worker log", "deleted", total)
	}
	return total, nil
}

// Close closes the database connection.
func (s *LogStore) Close() error {
	return s.db.Close()
}
