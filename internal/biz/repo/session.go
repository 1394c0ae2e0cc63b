package repo

import (
	"context"

	"github.com/nightdose/nightdose/internal/biz/domain"
)

// SessionRepo is the session repository interface
// The orchestrator is its only writer (SQLite)
type SessionRepo interface {
	// Put writes the full session snapshot (create or replace)
	Put(ctx context.Context, session *domain.Session) error

	// Get gets a session by ID, nil if not found
	Get(ctx context.Context, sessionID string) (*domain.Session, error)

	// GetActive gets the session with terminal state none, nil if none
	GetActive(ctx context.Context) (*domain.Session, error)

	// List lists sessions, newest first
	List(ctx context.Context, limit int) ([]*domain.Session, error)

	// Delete deletes a session row
	Delete(ctx context.Context, sessionID string) error
}

// DiagnosticRepo is the append-only diagnostic log
type DiagnosticRepo interface {
	// Append appends one event; (session_id, seq) must be unique
	Append(ctx context.Context, event *domain.DiagnosticEvent) error

	// MaxSeq returns the highest sequence number written for a session (0 if none)
	MaxSeq(ctx context.Context, sessionID string) (int64, error)

	// List lists a session's events ordered by seq
	List(ctx context.Context, sessionID string) ([]*domain.DiagnosticEvent, error)

	// SessionIDs lists every session that has diagnostic events
	SessionIDs(ctx context.Context) ([]string, error)
}

// AdjunctRepo stores contextual night events
type AdjunctRepo interface {
	Add(ctx context.Context, event *domain.AdjunctEvent) error
	ListBySession(ctx context.Context, sessionID string) ([]*domain.AdjunctEvent, error)
	ListByDate(ctx context.Context, key domain.SessionKey) ([]*domain.AdjunctEvent, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
}
