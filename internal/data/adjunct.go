package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nightdose/nightdose/internal/biz/domain"
	"github.com/nightdose/nightdose/internal/biz/repo"
)

// adjunctRepo implements the adjunct event repository
type adjunctRepo struct {
	db *sql.DB
}

// NewAdjunctRepo creates a new adjunct event repository
func NewAdjunctRepo(db *sql.DB) (repo.AdjunctRepo, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS adjunct_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			session_date TEXT NOT NULL,
			kind TEXT NOT NULL,
			at INTEGER NOT NULL,
			note TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create adjunct_events table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_adjunct_session ON adjunct_events(session_id, at)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_adjunct_date ON adjunct_events(session_date, at)`)

	return &adjunctRepo{db: db}, nil
}

// Add stores an adjunct event
func (r *adjunctRepo) Add(ctx context.Context, event *domain.AdjunctEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO adjunct_events (id, session_id, session_date, kind, at, note)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.ID, event.SessionID, string(event.SessionDate), string(event.Kind), toUnixNano(event.At), event.Note)
	if err != nil {
		return fmt.Errorf("failed to add adjunct event: %w", err)
	}
	return nil
}

// ListBySession lists a session's adjunct events in time order
func (r *adjunctRepo) ListBySession(ctx context.Context, sessionID string) ([]*domain.AdjunctEvent, error) {
	return r.query(ctx, `
		SELECT id, session_id, session_date, kind, at, note
		FROM adjunct_events WHERE session_id = ?
		ORDER BY at ASC
	`, sessionID)
}

// ListByDate lists adjunct events labelled with a session date
func (r *adjunctRepo) ListByDate(ctx context.Context, key domain.SessionKey) ([]*domain.AdjunctEvent, error) {
	return r.query(ctx, `
		SELECT id, session_id, session_date, kind, at, note
		FROM adjunct_events WHERE session_date = ?
		ORDER BY at ASC
	`, string(key))
}

// DeleteBySession deletes a session's adjunct events
func (r *adjunctRepo) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM adjunct_events WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete adjunct events: %w", err)
	}
	return result.RowsAffected()
}

func (r *adjunctRepo) query(ctx context.Context, query string, args ...any) ([]*domain.AdjunctEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjunct events: %w", err)
	}
	defer rows.Close()

	var events []*domain.AdjunctEvent
	for rows.Next() {
		var event domain.AdjunctEvent
		var sessionDate, kind string
		var at int64
		if err := rows.Scan(&event.ID, &event.SessionID, &sessionDate, &kind, &at, &event.Note); err != nil {
			return nil, fmt.Errorf("failed to scan adjunct event: %w", err)
		}
		event.SessionDate = domain.SessionKey(sessionDate)
		event.Kind = domain.AdjunctKind(kind)
		event.At = fromUnixNano(at)
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate adjunct events: %w", err)
	}
	return events, nil
}
