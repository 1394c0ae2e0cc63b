package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nightdose/nightdose/internal/biz/domain"
	"github.com/nightdose/nightdose/internal/biz/repo"
)

// DiagnosticRecorder appends sequence-numbered events per session.
// Sequence numbers advance only after a successful append, so the log
// stays contiguous from 1 even when a write fails.
type DiagnosticRecorder struct {
	mu      sync.Mutex
	repo    repo.DiagnosticRepo
	lastSeq map[string]int64
}

// NewDiagnosticRecorder creates a recorder
func NewDiagnosticRecorder(diagnosticRepo repo.DiagnosticRepo) *DiagnosticRecorder {
	return &DiagnosticRecorder{
		repo:    diagnosticRepo,
		lastSeq: make(map[string]int64),
	}
}

// Record appends one event and returns it with its assigned sequence number
func (r *DiagnosticRecorder) Record(
	ctx context.Context,
	sessionID string,
	kind domain.DiagnosticKind,
	level domain.DiagnosticLevel,
	at time.Time,
	fields map[string]string,
) (*domain.DiagnosticEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.lastSeq[sessionID]
	if !ok {
		seq, err := r.repo.MaxSeq(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load diagnostic seq: %w", err)
		}
		last = seq
	}

	event := &domain.DiagnosticEvent{
		SessionID: sessionID,
		Seq:       last + 1,
		Timestamp: at.UTC(),
		Kind:      kind,
		Level:     level,
		Fields:    fields,
	}
	if err := r.repo.Append(ctx, event); err != nil {
		// Force a reload next time in case the write landed despite the error
		delete(r.lastSeq, sessionID)
		return nil, err
	}
	r.lastSeq[sessionID] = event.Seq
	return event, nil
}

// Events lists a session's events in sequence order
func (r *DiagnosticRecorder) Events(ctx context.Context, sessionID string) ([]*domain.DiagnosticEvent, error) {
	return r.repo.List(ctx, sessionID)
}

// SessionIDs lists every session with a diagnostic trail
func (r *DiagnosticRecorder) SessionIDs(ctx context.Context) ([]string, error) {
	return r.repo.SessionIDs(ctx)
}
