package data

import (
	"context"
	"fmt"
	"time"

	"github.com/nightdose/nightdose/internal/biz/domain"
	"github.com/nightdose/nightdose/internal/biz/repo"
)

// StoragePolicy bounds write retries at the storage boundary
type StoragePolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultStoragePolicy returns the default write retry policy
func DefaultStoragePolicy() StoragePolicy {
	return StoragePolicy{Attempts: 3, Delay: 50 * time.Millisecond}
}

// withRetry runs fn until it succeeds or attempts run out.
// The final failure is reported as *domain.StorageError.
func (p StoragePolicy) withRetry(ctx context.Context, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		fmt.Printf("[Storage] %s attempt %d/%d failed: %v\n", op, i, attempts, err)
		select {
		case <-ctx.Done():
			return &domain.StorageError{Op: op, Attempts: i, Err: ctx.Err()}
		case <-time.After(p.Delay):
		}
	}
	return &domain.StorageError{Op: op, Attempts: attempts, Err: err}
}

// retryingSessionRepo retries session writes
type retryingSessionRepo struct {
	repo.SessionRepo
	policy StoragePolicy
}

// NewRetryingSessionRepo wraps a SessionRepo with bounded write retries
func NewRetryingSessionRepo(inner repo.SessionRepo, policy StoragePolicy) repo.SessionRepo {
	return &retryingSessionRepo{SessionRepo: inner, policy: policy}
}

func (r *retryingSessionRepo) Put(ctx context.Context, session *domain.Session) error {
	return r.policy.withRetry(ctx, "session.put", func() error {
		return r.SessionRepo.Put(ctx, session)
	})
}

func (r *retryingSessionRepo) Delete(ctx context.Context, sessionID string) error {
	return r.policy.withRetry(ctx, "session.delete", func() error {
		return r.SessionRepo.Delete(ctx, sessionID)
	})
}

// retryingDiagnosticRepo retries diagnostic appends
type retryingDiagnosticRepo struct {
	repo.DiagnosticRepo
	policy StoragePolicy
}

// NewRetryingDiagnosticRepo wraps a DiagnosticRepo with bounded append retries
func NewRetryingDiagnosticRepo(inner repo.DiagnosticRepo, policy StoragePolicy) repo.DiagnosticRepo {
	return &retryingDiagnosticRepo{DiagnosticRepo: inner, policy: policy}
}

func (r *retryingDiagnosticRepo) Append(ctx context.Context, event *domain.DiagnosticEvent) error {
	return r.policy.withRetry(ctx, "diagnostic.append", func() error {
		return r.DiagnosticRepo.Append(ctx, event)
	})
}

// retryingAdjunctRepo retries adjunct writes
type retryingAdjunctRepo struct {
	repo.AdjunctRepo
	policy StoragePolicy
}

// NewRetryingAdjunctRepo wraps an AdjunctRepo with bounded write retries
func NewRetryingAdjunctRepo(inner repo.AdjunctRepo, policy StoragePolicy) repo.AdjunctRepo {
	return &retryingAdjunctRepo{AdjunctRepo: inner, policy: policy}
}

func (r *retryingAdjunctRepo) Add(ctx context.Context, event *domain.AdjunctEvent) error {
	return r.policy.withRetry(ctx, "adjunct.add", func() error {
		return r.AdjunctRepo.Add(ctx, event)
	})
}

func (r *retryingAdjunctRepo) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := r.policy.withRetry(ctx, "adjunct.delete", func() error {
		var err error
		n, err = r.AdjunctRepo.DeleteBySession(ctx, sessionID)
		return err
	})
	return n, err
}
