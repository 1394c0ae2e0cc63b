package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nightdose/nightdose/internal/biz/domain"
	"github.com/nightdose/nightdose/internal/biz/repo"
)

// diagnosticRepo implements the append-only diagnostic log
type diagnosticRepo struct {
	db *sql.DB
}

// NewDiagnosticRepo creates a new diagnostic repository
func NewDiagnosticRepo(db *sql.DB) (repo.DiagnosticRepo, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS diagnostic_events (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			kind TEXT NOT NULL,
			level TEXT NOT NULL,
			fields TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (session_id, seq)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create diagnostic_events table: %w", err)
	}

	// Append-only: reject updates and deletes at the database level
	_, _ = db.Exec(`
		CREATE TRIGGER IF NOT EXISTS diagnostic_events_no_update
		BEFORE UPDATE ON diagnostic_events
		BEGIN SELECT RAISE(ABORT, 'diagnostic_events is append-only'); END
	`)
	_, _ = db.Exec(`
		CREATE TRIGGER IF NOT EXISTS diagnostic_events_no_delete
		BEFORE DELETE ON diagnostic_events
		BEGIN SELECT RAISE(ABORT, 'diagnostic_events is append-only'); END
	`)

	return &diagnosticRepo{db: db}, nil
}

// Append appends one event
func (r *diagnosticRepo) Append(ctx context.Context, event *domain.DiagnosticEvent) error {
	fields := event.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode diagnostic fields: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO diagnostic_events (session_id, seq, ts, kind, level, fields)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.SessionID, event.Seq, toUnixNano(event.Timestamp), string(event.Kind), string(event.Level), string(fieldsJSON))
	if err != nil {
		return fmt.Errorf("failed to append diagnostic event: %w", err)
	}
	return nil
}

// MaxSeq returns the highest sequence number for a session
func (r *diagnosticRepo) MaxSeq(ctx context.Context, sessionID string) (int64, error) {
	var seq sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM diagnostic_events WHERE session_id = ?`, sessionID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to query max seq: %w", err)
	}
	return seq.Int64, nil
}

// List lists a session's events in sequence order
func (r *diagnosticRepo) List(ctx context.Context, sessionID string) ([]*domain.DiagnosticEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, seq, ts, kind, level, fields
		FROM diagnostic_events
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagnostic events: %w", err)
	}
	defer rows.Close()

	var events []*domain.DiagnosticEvent
	for rows.Next() {
		var event domain.DiagnosticEvent
		var ts int64
		var kind, level, fieldsJSON string
		if err := rows.Scan(&event.SessionID, &event.Seq, &ts, &kind, &level, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic event: %w", err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &event.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode diagnostic fields: %w", err)
		}
		event.Timestamp = fromUnixNano(ts)
		event.Kind = domain.DiagnosticKind(kind)
		event.Level = domain.DiagnosticLevel(level)
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate diagnostic events: %w", err)
	}
	return events, nil
}

// SessionIDs lists sessions that have diagnostic events
func (r *diagnosticRepo) SessionIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id FROM diagnostic_events
		GROUP BY session_id
		ORDER BY MIN(ts) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagnostic sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
