package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nightdose/nightdose/internal/biz/domain"
	"github.com/nightdose/nightdose/internal/biz/repo"
)

// outboxRepo implements the retry queue outbox
type outboxRepo struct {
	db *sql.DB
}

// NewOutboxRepo creates a new outbox repository
func NewOutboxRepo(db *sql.DB) (repo.OutboxRepo, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sync_outbox (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			idempotency_key TEXT UNIQUE NOT NULL,
			payload BLOB NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			last_error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync_outbox table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_outbox_status_next ON sync_outbox(status, next_attempt_at)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_outbox_session ON sync_outbox(session_id)`)

	return &outboxRepo{db: db}, nil
}

const outboxColumns = `id, session_id, idempotency_key, payload, attempts, next_attempt_at, status, last_error, created_at, updated_at`

// Enqueue stores a task, ignoring duplicate idempotency keys
func (r *outboxRepo) Enqueue(ctx context.Context, task *domain.SyncTask) error {
	status := task.Status
	if status == "" {
		status = domain.SyncPending
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sync_outbox (`+outboxColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID,
		task.SessionID,
		task.IdempotencyKey,
		task.Payload,
		task.Attempts,
		toUnixNano(task.NextAttemptAt),
		string(status),
		task.LastError,
		toUnixNano(task.CreatedAt),
		toUnixNano(task.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue sync task: %w", err)
	}
	return nil
}

// Due lists pending tasks ready for another attempt
func (r *outboxRepo) Due(ctx context.Context, now time.Time, limit int) ([]*domain.SyncTask, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query(ctx, `
		SELECT `+outboxColumns+` FROM sync_outbox
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC, created_at ASC
		LIMIT ?
	`, toUnixNano(now), limit)
}

// Update writes a task's delivery state
func (r *outboxRepo) Update(ctx context.Context, task *domain.SyncTask) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_outbox
		SET attempts = ?, next_attempt_at = ?, status = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status != 'cancelled'
	`, task.Attempts, toUnixNano(task.NextAttemptAt), string(task.Status), task.LastError, toUnixNano(task.UpdatedAt), task.ID)
	if err != nil {
		return fmt.Errorf("failed to update sync task: %w", err)
	}
	return nil
}

// ListByStatus lists tasks in a status, oldest first
func (r *outboxRepo) ListByStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]*domain.SyncTask, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, `
		SELECT `+outboxColumns+` FROM sync_outbox
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, string(status), limit)
}

// CancelSession cancels a session's pending tasks
func (r *outboxRepo) CancelSession(ctx context.Context, sessionID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_outbox SET status = 'cancelled', updated_at = ?
		WHERE session_id = ? AND status = 'pending'
	`, toUnixNano(time.Now()), sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel sync tasks: %w", err)
	}
	return result.RowsAffected()
}

// CleanupDelivered removes delivered tasks older than before
func (r *outboxRepo) CleanupDelivered(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM sync_outbox WHERE status = 'delivered' AND updated_at < ?
	`, toUnixNano(before))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup sync tasks: %w", err)
	}
	return result.RowsAffected()
}

func (r *outboxRepo) query(ctx context.Context, query string, args ...any) ([]*domain.SyncTask, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.SyncTask
	for rows.Next() {
		var task domain.SyncTask
		var status string
		var nextAttemptAt, createdAt, updatedAt int64
		err := rows.Scan(
			&task.ID,
			&task.SessionID,
			&task.IdempotencyKey,
			&task.Payload,
			&task.Attempts,
			&nextAttemptAt,
			&status,
			&task.LastError,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		task.Status = domain.SyncStatus(status)
		task.NextAttemptAt = fromUnixNano(nextAttemptAt)
		task.CreatedAt = fromUnixNano(createdAt)
		task.UpdatedAt = fromUnixNano(updatedAt)
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync tasks: %w", err)
	}
	return tasks, nil
}
