// Package audit records terminal lifecycle events in SQLite.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Kind is the type of a lifecycle event.
type Kind string

const (
	KindOpened   Kind = "opened"
	KindClosed   Kind = "closed"
	KindRejected Kind = "rejected"
)

// Event is one audit record. Terminal output is never recorded.
type Event struct {
	ID          string    `json:"id"`
	Time        time.Time `json:"time"`
	Kind        Kind      `json:"kind"`
	SessionID   string    `json:"sessionId"`
	TerminalID  string    `json:"terminalId,omitempty"`
	PID         int       `json:"pid,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	Cause       string    `json:"cause,omitempty"`
	Code        string    `json:"code,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Store is the SQLite-backed audit table.
type Store struct {
	db *sql.DB
}

type migration struct {
	version string
	sql     string
}

var migrations = []migration{
	{
		version: "001_terminal_events",
		sql: `
			CREATE TABLE terminal_events (
				id TEXT PRIMARY KEY,
				occurred_at DATETIME NOT NULL,
				kind TEXT NOT NULL,
				session_id TEXT NOT NULL,
				terminal_id TEXT NOT NULL DEFAULT '',
				pid INTEGER NOT NULL DEFAULT 0,
				display_name TEXT NOT NULL DEFAULT '',
				cause TEXT NOT NULL DEFAULT '',
				code TEXT NOT NULL DEFAULT '',
				detail TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX idx_terminal_events_session ON terminal_events(session_id, occurred_at);
		`,
	},
}

// Open opens the database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer keeps SQLite from reporting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Insert writes one event.
func (s *Store) Insert(ctx context.Context, ev Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terminal_events
			(id, occurred_at, kind, session_id, terminal_id, pid, display_name, cause, code, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Time.UTC(), string(ev.Kind), ev.SessionID, ev.TerminalID, ev.PID,
		ev.DisplayName, ev.Cause, ev.Code, ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

const selectEvents = `
	SELECT id, occurred_at, kind, session_id, terminal_id, pid, display_name, cause, code, detail
	FROM terminal_events`

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	return s.query(ctx, selectEvents+`
		ORDER BY occurred_at DESC, rowid DESC
		LIMIT ?`, limit)
}

// RecentForSession returns up to limit events recorded for one session,
// newest first.
func (s *Store) RecentForSession(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	return s.query(ctx, selectEvents+`
		WHERE session_id = ?
		ORDER BY occurred_at DESC, rowid DESC
		LIMIT ?`, sessionID, limit)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev   Event
			kind string
		)
		if err := rows.Scan(&ev.ID, &ev.Time, &kind, &ev.SessionID, &ev.TerminalID, &ev.PID,
			&ev.DisplayName, &ev.Cause, &ev.Code, &ev.Detail); err != nil {
			return nil, err
		}
		ev.Kind = Kind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
