package usecase

import (
	"sync"
	"time"

	"github.com/nightdose/nightdose/internal/biz/domain"
)

// UndoAction names the user-reversible action a token restores
type UndoAction string

const (
	UndoTakeDose UndoAction = "take_dose"
	UndoSnooze   UndoAction = "snooze"
)

// UndoToken holds the snapshot taken before a reversible action
type UndoToken struct {
	Action    UndoAction
	SessionID string
	Snapshot  []byte // domain.EncodeSnapshot of the pre-action session
	ArmedAt   time.Time
	ExpiresAt time.Time
}

// UndoLedger is a single-slot, last-write-wins undo buffer
type UndoLedger struct {
	mu   sync.Mutex
	slot *UndoToken
}

// NewUndoLedger creates an empty ledger
func NewUndoLedger() *UndoLedger {
	return &UndoLedger{}
}

// Arm replaces any existing token
func (l *UndoLedger) Arm(action UndoAction, previous *domain.Session, window time.Duration, now time.Time) error {
	snapshot, err := domain.EncodeSnapshot(previous)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.slot = &UndoToken{
		Action:    action,
		SessionID: previous.ID,
		Snapshot:  snapshot,
		ArmedAt:   now,
		ExpiresAt: now.Add(window),
	}
	return nil
}

// TryConsume returns the token if now is before its expiry.
// The slot is cleared either way, so a token is consumed at most once.
func (l *UndoLedger) TryConsume(now time.Time) (*UndoToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	token := l.slot
	l.slot = nil

	if token == nil {
		return nil, domain.Reject(domain.RejectNothingToUndo, 0, 0, "no recent action to undo")
	}
	if !now.Before(token.ExpiresAt) {
		late := now.Sub(token.ExpiresAt)
		return nil, domain.Reject(domain.RejectUndoExpired, late, 0,
			"undo window closed %s ago", late.Round(time.Millisecond))
	}
	return token, nil
}

// Peek reports the armed action and its remaining time without consuming it
func (l *UndoLedger) Peek(now time.Time) (UndoAction, time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.slot == nil || !now.Before(l.slot.ExpiresAt) {
		return "", 0, false
	}
	return l.slot.Action, l.slot.ExpiresAt.Sub(now), true
}

// Clear drops any armed token
func (l *UndoLedger) Clear() {
	l.mu.Lock()
	l.slot = nil
	l.mu.Unlock()
}
