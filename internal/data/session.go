package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nightdose/nightdose/internal/biz/domain"
	"github.com/nightdose/nightdose/internal/biz/repo"
)

// sessionRepo implements the Session repository
type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new Session repository
func NewSessionRepo(db *sql.DB) (repo.SessionRepo, error) {
	// Create table
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			session_date TEXT NOT NULL,
			time_zone TEXT NOT NULL,
			dose1_at INTEGER,
			dose_events TEXT NOT NULL DEFAULT '[]',
			target_minutes INTEGER NOT NULL,
			snooze_count INTEGER NOT NULL DEFAULT 0,
			terminal_state TEXT NOT NULL DEFAULT 'none',
			terminal_reason TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			closed_at INTEGER
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	// At most one active session, enforced by the database as well
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_single_active
		ON sessions(terminal_state) WHERE terminal_state = 'none'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create active index: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_date ON sessions(session_date)`)

	return &sessionRepo{db: db}, nil
}

const sessionColumns = `id, session_date, time_zone, dose1_at, dose_events, target_minutes, snooze_count,
	terminal_state, terminal_reason, created_at, updated_at, closed_at`

// Put saves a session snapshot
func (r *sessionRepo) Put(ctx context.Context, session *domain.Session) error {
	events := session.DoseEvents
	if events == nil {
		events = []domain.DoseEvent{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to encode dose events: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_date = excluded.session_date,
			time_zone = excluded.time_zone,
			dose1_at = excluded.dose1_at,
			dose_events = excluded.dose_events,
			target_minutes = excluded.target_minutes,
			snooze_count = excluded.snooze_count,
			terminal_state = excluded.terminal_state,
			terminal_reason = excluded.terminal_reason,
			updated_at = excluded.updated_at,
			closed_at = excluded.closed_at
	`,
		session.ID,
		string(session.SessionDate),
		session.TimeZone,
		nullableUnixNano(session.Dose1At),
		string(eventsJSON),
		session.TargetMinutes,
		session.SnoozeCount,
		string(session.TerminalState),
		session.TerminalReason,
		toUnixNano(session.CreatedAt),
		toUnixNano(session.UpdatedAt),
		nullableUnixNano(session.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get gets a session by ID
func (r *sessionRepo) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// GetActive gets the open session
func (r *sessionRepo) GetActive(ctx context.Context) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE terminal_state = 'none'
		ORDER BY created_at DESC
		LIMIT 1
	`)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}
	return session, nil
}

// List lists sessions, newest first
func (r *sessionRepo) List(ctx context.Context, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// Delete deletes a session
func (r *sessionRepo) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var sessionDate, terminalState, eventsJSON string
	var dose1At, closedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&session.ID,
		&sessionDate,
		&session.TimeZone,
		&dose1At,
		&eventsJSON,
		&session.TargetMinutes,
		&session.SnoozeCount,
		&terminalState,
		&session.TerminalReason,
		&createdAt,
		&updatedAt,
		&closedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(eventsJSON), &session.DoseEvents); err != nil {
		return nil, fmt.Errorf("failed to decode dose events: %w", err)
	}
	session.SessionDate = domain.SessionKey(sessionDate)
	session.TerminalState = domain.TerminalState(terminalState)
	session.Dose1At = fromNullableUnixNano(dose1At)
	session.ClosedAt = fromNullableUnixNano(closedAt)
	session.CreatedAt = fromUnixNano(createdAt)
	session.UpdatedAt = fromUnixNano(updatedAt)
	session.Normalize()
	return &session, nil
}
