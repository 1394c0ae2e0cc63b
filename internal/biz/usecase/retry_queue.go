package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nightdose/nightdose/internal/biz/domain"
	"github.com/nightdose/nightdose/internal/biz/repo"
)

// SyncSink receives tasks from the orchestrator without blocking it
type SyncSink interface {
	Enqueue(task *domain.SyncTask)
	CancelSession(ctx context.Context, sessionID string) error
}

// SyncFailureReporter is told about tasks that will never be delivered
type SyncFailureReporter interface {
	RecordSyncOutcome(ctx context.Context, task *domain.SyncTask) error
}

// RetryQueue mirrors diagnostic transitions to the remote endpoint.
// Local state never depends on its outcome.
type RetryQueue struct {
	outbox  repo.OutboxRepo
	remote  repo.RemoteRepo
	backoff domain.BackoffConfig
	clock   domain.Clock
	intake  chan *domain.SyncTask

	mu       sync.Mutex
	reporter SyncFailureReporter
	inflight map[string]map[string]context.CancelFunc // sessionID -> taskID -> cancel

	// Held shared by persist and exclusively by CancelSession
	cancelMu  sync.RWMutex
	cancelled map[string]struct{}
}

// NewRetryQueue creates a retry queue with a bounded intake buffer
func NewRetryQueue(
	outbox repo.OutboxRepo,
	remote repo.RemoteRepo,
	backoff domain.BackoffConfig,
	clock domain.Clock,
	intakeSize int,
) *RetryQueue {
	if intakeSize <= 0 {
		intakeSize = 256
	}
	return &RetryQueue{
		outbox:    outbox,
		remote:    remote,
		backoff:   backoff,
		clock:     clock,
		intake:    make(chan *domain.SyncTask, intakeSize),
		inflight:  make(map[string]map[string]context.CancelFunc),
		cancelled: make(map[string]struct{}),
	}
}

// SetFailureReporter wires the component that records permanent failures
func (q *RetryQueue) SetFailureReporter(reporter SyncFailureReporter) {
	q.mu.Lock()
	q.reporter = reporter
	q.mu.Unlock()
}

// Enqueue hands a task to the queue; it never blocks the caller
func (q *RetryQueue) Enqueue(task *domain.SyncTask) {
	select {
	case q.intake <- task:
	default:
		// Intake full: persist off the caller's goroutine rather than drop
		fmt.Printf("[Sync] Intake full, persisting task %s directly\n", task.IdempotencyKey)
		go func() {
			if err := q.persist(context.Background(), task); err != nil {
				fmt.Printf("[Sync] Warning: failed to persist task %s: %v\n", task.IdempotencyKey, err)
			}
		}()
	}
}

// DrainIntake moves buffered tasks into the outbox
func (q *RetryQueue) DrainIntake(ctx context.Context) (int, error) {
	n := 0
	for {
		select {
		case task := <-q.intake:
			if err := q.persist(ctx, task); err != nil {
				return n, err
			}
			n++
		default:
			return n, nil
		}
	}
}

// Intake exposes the intake channel so a scheduler can wait on it
func (q *RetryQueue) Intake() <-chan *domain.SyncTask {
	return q.intake
}

// Persist stores one task received from Intake
func (q *RetryQueue) Persist(ctx context.Context, task *domain.SyncTask) error {
	return q.persist(ctx, task)
}

func (q *RetryQueue) persist(ctx context.Context, task *domain.SyncTask) error {
	q.cancelMu.RLock()
	defer q.cancelMu.RUnlock()
	if _, gone := q.cancelled[task.SessionID]; gone {
		fmt.Printf("[Sync] Dropping task %s for deleted session %s\n", task.IdempotencyKey, task.SessionID)
		return nil
	}

	now := q.clock.Now()
	if task.Status == "" {
		task.Status = domain.SyncPending
	}
	if task.NextAttemptAt.IsZero() {
		task.NextAttemptAt = now
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if err := q.outbox.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue sync task: %w", err)
	}
	return nil
}

// ProcessResult summarizes one delivery pass
type ProcessResult struct {
	Delivered int
	Retrying  int
	Failed    int
}

// ProcessDue attempts every task whose backoff has elapsed
func (q *RetryQueue) ProcessDue(ctx context.Context, limit int) (ProcessResult, error) {
	var result ProcessResult
	if q.remote == nil {
		return result, nil
	}

	tasks, err := q.outbox.Due(ctx, q.clock.Now(), limit)
	if err != nil {
		return result, fmt.Errorf("list due tasks: %w", err)
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		switch q.attempt(ctx, task) {
		case domain.SyncDelivered:
			result.Delivered++
		case domain.SyncFailed:
			result.Failed++
		case domain.SyncPending:
			result.Retrying++
		}
	}
	return result, nil
}

func (q *RetryQueue) attempt(ctx context.Context, task *domain.SyncTask) domain.SyncStatus {
	attemptCtx, cancel := context.WithCancel(ctx)
	q.track(task, cancel)
	err := q.remote.Submit(attemptCtx, task.IdempotencyKey, task.Payload)
	cancelled := attemptCtx.Err() != nil && ctx.Err() == nil
	q.untrack(task)
	cancel()

	if cancelled {
		// Owning session was deleted mid-flight; the outbox row is already cancelled
		fmt.Printf("[Sync] Task %s cancelled in flight\n", task.IdempotencyKey)
		return domain.SyncCancelled
	}

	now := q.clock.Now()
	task.UpdatedAt = now
	task.Attempts++

	switch {
	case err == nil:
		task.Status = domain.SyncDelivered
		task.LastError = ""
	case errors.Is(err, repo.ErrPermanent):
		task.Status = domain.SyncFailed
		task.LastError = err.Error()
	case q.backoff.Exhausted(task.Attempts):
		task.Status = domain.SyncFailed
		task.LastError = err.Error()
	default:
		task.Status = domain.SyncPending
		task.LastError = err.Error()
		task.NextAttemptAt = now.Add(q.backoff.Delay(task.Attempts))
	}

	if uerr := q.outbox.Update(ctx, task); uerr != nil {
		fmt.Printf("[Sync] Warning: failed to update task %s: %v\n", task.IdempotencyKey, uerr)
	}

	if task.Status == domain.SyncFailed {
		fmt.Printf("[Sync] Task %s failed permanently after %d attempt(s): %s\n",
			task.IdempotencyKey, task.Attempts, task.LastError)
		q.mu.Lock()
		reporter := q.reporter
		q.mu.Unlock()
		if reporter != nil {
			if rerr := reporter.RecordSyncOutcome(ctx, task); rerr != nil {
				fmt.Printf("[Sync] Warning: failed to record sync failure: %v\n", rerr)
			}
		}
	} else if task.Status == domain.SyncPending {
		fmt.Printf("[Sync] Task %s attempt %d failed, next at %s: %s\n",
			task.IdempotencyKey, task.Attempts, task.NextAttemptAt.Format(time.RFC3339), task.LastError)
	}
	return task.Status
}

func (q *RetryQueue) track(task *domain.SyncTask, cancel context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight[task.SessionID] == nil {
		q.inflight[task.SessionID] = make(map[string]context.CancelFunc)
	}
	q.inflight[task.SessionID][task.ID] = cancel
}

func (q *RetryQueue) untrack(task *domain.SyncTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight[task.SessionID], task.ID)
	if len(q.inflight[task.SessionID]) == 0 {
		delete(q.inflight, task.SessionID)
	}
}

// CancelSession cancels queued and in-flight tasks for a deleted session
func (q *RetryQueue) CancelSession(ctx context.Context, sessionID string) error {
	// Intake may still hold tasks for the session; flush them so they get cancelled too
	if _, err := q.DrainIntake(ctx); err != nil {
		fmt.Printf("[Sync] Warning: failed to drain intake: %v\n", err)
	}

	q.cancelMu.Lock()
	q.cancelled[sessionID] = struct{}{}
	n, err := q.outbox.CancelSession(ctx, sessionID)
	q.cancelMu.Unlock()
	if err != nil {
		return fmt.Errorf("cancel sync tasks: %w", err)
	}

	q.mu.Lock()
	cancels := q.inflight[sessionID]
	delete(q.inflight, sessionID)
	q.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}

	if n > 0 || len(cancels) > 0 {
		fmt.Printf("[Sync] Cancelled %d queued and %d in-flight task(s) for session %s\n", n, len(cancels), sessionID)
	}
	return nil
}

// FailedTasks lists tasks that will not be retried
func (q *RetryQueue) FailedTasks(ctx context.Context, limit int) ([]*domain.SyncTask, error) {
	return q.outbox.ListByStatus(ctx, domain.SyncFailed, limit)
}

// Cleanup removes delivered tasks older than retention
func (q *RetryQueue) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return q.outbox.CleanupDelivered(ctx, q.clock.Now().Add(-retention))
}
