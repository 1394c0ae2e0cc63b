package domain

import (
	"errors"
	"fmt"
	"time"
)

// RejectReason is a machine-readable rejection code for UI messaging
type RejectReason string

const (
	RejectWindowNotOpen          RejectReason = "window_not_open"
	RejectWindowClosedNoOverride RejectReason = "window_closed_no_override"
	RejectNoDose1Yet             RejectReason = "no_dose1_yet"
	RejectSessionAlreadyTerminal RejectReason = "session_already_terminal"
	RejectExtraDoseNoOverride    RejectReason = "extra_dose_no_override"
	RejectDose2AlreadyTaken      RejectReason = "dose2_already_taken"
	RejectDose2NotTaken          RejectReason = "dose2_not_taken"
	RejectSnoozeLimitReached     RejectReason = "snooze_limit_reached"
	RejectSnoozeTooCloseToClose  RejectReason = "snooze_too_close_to_close"
	RejectUndoExpired            RejectReason = "undo_expired"
	RejectNothingToUndo          RejectReason = "nothing_to_undo"
	RejectNoActiveSession        RejectReason = "no_active_session"
	RejectSessionNotFound        RejectReason = "session_not_found"
	RejectSessionStillActive     RejectReason = "session_still_active"
	RejectRateLimited            RejectReason = "rate_limited"
	RejectUnknownEventKind       RejectReason = "unknown_event_kind"
	RejectInvalidTimeZone        RejectReason = "invalid_time_zone"
	RejectFutureTimestamp        RejectReason = "future_timestamp"
)

// RejectedError is an expected, user-recoverable refusal.
// It always carries a remaining time or remaining count.
type RejectedError struct {
	Reason         RejectReason
	Remaining      time.Duration // Time until the action may succeed (or time past a deadline)
	RemainingCount int           // Remaining uses, where counts apply
	Message        string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rejected (%s): %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("rejected (%s)", e.Reason)
}

// Reject builds a RejectedError with a formatted message
func Reject(reason RejectReason, remaining time.Duration, count int, format string, args ...any) *RejectedError {
	return &RejectedError{
		Reason:         reason,
		Remaining:      remaining,
		RemainingCount: count,
		Message:        fmt.Sprintf(format, args...),
	}
}

// AsRejected unwraps a RejectedError
func AsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// IsRejected reports whether err is a rejection with the given reason
func IsRejected(err error, reason RejectReason) bool {
	rej, ok := AsRejected(err)
	return ok && rej.Reason == reason
}

// StorageError means the durable write did not complete
type StorageError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// InvariantError signals a programming defect; the operation fails closed
type InvariantError struct {
	Check  string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated (%s): %s", e.Check, e.Detail)
}

// Invariant builds an InvariantError
func Invariant(check, format string, args ...any) *InvariantError {
	return &InvariantError{Check: check, Detail: fmt.Sprintf(format, args...)}
}
