// Package state persists orchestration sessions and task results so runs can
// be inspected and resumed across process restarts.
package state

import (
	"time"
)

// SessionRecord is a persisted snapshot of one orchestration session.
type SessionRecord struct {
	ID           string
	State        string
	CurrentGroup int
	TotalGroups  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TaskResultRecord is the persisted outcome of one task within a session.
type TaskResultRecord struct {
	SessionID   string
	TaskID      string
	AgentID     string
	GroupID     string
	Success     bool
	Error       string
	Retries     int
	Duration    time.Duration
	CompletedAt time.Time
}

// SessionStore persists session lifecycle snapshots.
type SessionStore interface {
	SaveSession(rec *SessionRecord) error
	GetSession(id string) (*SessionRecord, error)
	ListSessions() ([]*SessionRecord, error)
}

// TaskResultStore persists per-task outcomes.
type TaskResultStore interface {
	SaveTaskResult(rec *TaskResultRecord) error
	ListTaskResults(sessionID string) ([]*TaskResultRecord, error)
}

// Store is the full persistence surface used by the orchestrator.
type Store interface {
	SessionStore
	TaskResultStore
	Close() error
}
