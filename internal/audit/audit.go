// Package audit implements an optional, append-only SQLite execution log
// (spec.md §11's supplemented audit feature): every command the
// Execution Engine runs is recorded with its session, exit code, and
// duration, independent of and outliving in-memory session state.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Log is a handle to the audit database. A nil *Log is a valid no-op —
// callers that construct one only when audit.enabled is set in config
// can call methods on a nil receiver safely.
type Log struct {
	db *sql.DB
}

// Open creates (or reuses) a SQLite database at dsn and ensures the
// executions table exists, mirroring the teacher's WAL-mode-plus-
// migrate-on-open pattern from its relay store.
func Open(dsn string) (*Log, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", dsn, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Log{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	command     TEXT NOT NULL,
	exit_code   INTEGER,
	cwd         TEXT,
	timed_out   INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL,
	started_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_session ON executions(session_id);
`

// Entry is one recorded command execution. ExitCode is nil when the
// command timed out or its exit status was never observed (spec.md
// §8's "Timeout ⇒ exit_code=null").
type Entry struct {
	SessionID  string
	Command    string
	ExitCode   *int32
	Cwd        string
	TimedOut   bool
	DurationMs int64
	StartedAt  time.Time
}

// Record appends an execution entry. A nil Log is a no-op, so callers
// don't need to branch on whether auditing is enabled.
func (l *Log) Record(e Entry) error {
	if l == nil {
		return nil
	}
	timedOut := 0
	if e.TimedOut {
		timedOut = 1
	}
	var exitCode any
	if e.ExitCode != nil {
		exitCode = *e.ExitCode
	}
	_, err := l.db.Exec(
		`INSERT INTO executions (session_id, command, exit_code, cwd, timed_out, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Command, exitCode, e.Cwd, timedOut, e.DurationMs, e.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	return nil
}

// Recent returns the most recent n entries for a session, newest first.
func (l *Log) Recent(sessionID string, n int) ([]Entry, error) {
	if l == nil {
		return nil, nil
	}
	rows, err := l.db.Query(
		`SELECT command, exit_code, cwd, timed_out, duration_ms, started_at
		 FROM executions WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var exitCode sql.NullInt32
		var timedOut int
		var startedAt string
		if err := rows.Scan(&e.Command, &exitCode, &e.Cwd, &timedOut, &e.DurationMs, &startedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if exitCode.Valid {
			code := exitCode.Int32
			e.ExitCode = &code
		}
		e.SessionID = sessionID
		e.TimedOut = timedOut != 0
		if ts, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			e.StartedAt = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database. A nil Log is a no-op.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}
