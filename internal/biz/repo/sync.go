package repo

import (
	"context"
	"errors"
	"time"

	"github.com/nightdose/nightdose/internal/biz/domain"
)

// OutboxRepo persists retry queue tasks
type OutboxRepo interface {
	// Enqueue stores a new pending task; duplicate idempotency keys are ignored
	Enqueue(ctx context.Context, task *domain.SyncTask) error

	// Due lists pending tasks whose next attempt is at or before now
	Due(ctx context.Context, now time.Time, limit int) ([]*domain.SyncTask, error)

	// Update writes attempts, status, next attempt and last error
	Update(ctx context.Context, task *domain.SyncTask) error

	// ListByStatus lists tasks in a status, oldest first
	ListByStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]*domain.SyncTask, error)

	// CancelSession marks a session's pending tasks cancelled
	CancelSession(ctx context.Context, sessionID string) (int64, error)

	// CleanupDelivered removes delivered tasks older than before
	CleanupDelivered(ctx context.Context, before time.Time) (int64, error)
}

// RemoteRepo submits events to the remote mirror
type RemoteRepo interface {
	// Submit posts a payload under an idempotency key
	Submit(ctx context.Context, idempotencyKey string, payload []byte) error
}

// ErrPermanent marks a remote failure that retrying cannot fix
var ErrPermanent = errors.New("permanent remote failure")
