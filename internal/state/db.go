package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	state         TEXT NOT NULL,
	current_group INTEGER NOT NULL DEFAULT 0,
	total_groups  INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS task_results (
	session_id   TEXT NOT NULL,
	task_id      TEXT NOT NULL,
	agent_id     TEXT NOT NULL,
	group_id     TEXT NOT NULL DEFAULT '',
	success      INTEGER NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	retries      INTEGER NOT NULL DEFAULT 0,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	completed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, task_id, agent_id)
);

CREATE INDEX IF NOT EXISTS idx_task_results_session ON task_results(session_id);
`

// DB is a sqlite-backed Store.
type DB struct {
	db *sql.DB
}

// Verify DB implements Store at compile time.
var _ Store = (*DB)(nil)

// Open opens (creating if needed) the state database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// SaveSession inserts or updates a session snapshot.
func (d *DB) SaveSession(rec *SessionRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := d.db.Exec(`
		INSERT INTO sessions (id, state, current_group, total_groups, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			current_group = excluded.current_group,
			total_groups = excluded.total_groups,
			updated_at = excluded.updated_at`,
		rec.ID, rec.State, rec.CurrentGroup, rec.TotalGroups, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.ID, err)
	}
	return nil
}

// GetSession returns the session with the given ID, or nil if not found.
func (d *DB) GetSession(id string) (*SessionRecord, error) {
	rec := &SessionRecord{}
	err := d.db.QueryRow(`
		SELECT id, state, current_group, total_groups, created_at, updated_at
		FROM sessions WHERE id = ?`, id).
		Scan(&rec.ID, &rec.State, &rec.CurrentGroup, &rec.TotalGroups, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return rec, nil
}

// ListSessions returns all sessions, most recently updated first.
func (d *DB) ListSessions() ([]*SessionRecord, error) {
	rows, err := d.db.Query(`
		SELECT id, state, current_group, total_groups, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionRecord
	for rows.Next() {
		rec := &SessionRecord{}
		if err := rows.Scan(&rec.ID, &rec.State, &rec.CurrentGroup, &rec.TotalGroups, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

// SaveTaskResult records the outcome of one task attempt, overwriting any
// earlier result for the same attempt.
func (d *DB) SaveTaskResult(rec *TaskResultRecord) error {
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}

	_, err := d.db.Exec(`
		INSERT INTO task_results (session_id, task_id, agent_id, group_id, success, error, retries, duration_ms, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, task_id, agent_id) DO UPDATE SET
			success = excluded.success,
			error = excluded.error,
			retries = excluded.retries,
			duration_ms = excluded.duration_ms,
			completed_at = excluded.completed_at`,
		rec.SessionID, rec.TaskID, rec.AgentID, rec.GroupID, rec.Success, rec.Error,
		rec.Retries, rec.Duration.Milliseconds(), rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("save task result %s/%s: %w", rec.SessionID, rec.TaskID, err)
	}
	return nil
}

// ListTaskResults returns all task results for a session in completion order.
func (d *DB) ListTaskResults(sessionID string) ([]*TaskResultRecord, error) {
	rows, err := d.db.Query(`
		SELECT session_id, task_id, agent_id, group_id, success, error, retries, duration_ms, completed_at
		FROM task_results WHERE session_id = ? ORDER BY completed_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list task results: %w", err)
	}
	defer rows.Close()

	var results []*TaskResultRecord
	for rows.Next() {
		rec := &TaskResultRecord{}
		var durationMS int64
		if err := rows.Scan(&rec.SessionID, &rec.TaskID, &rec.AgentID, &rec.GroupID,
			&rec.Success, &rec.Error, &rec.Retries, &durationMS, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, rec)
	}
	return results, rows.Err()
}
