package domain

import "time"

// DiagnosticLevel is the severity of a diagnostic event
type DiagnosticLevel string

const (
	LevelDebug     DiagnosticLevel = "debug"
	LevelInfo      DiagnosticLevel = "info"
	LevelWarning   DiagnosticLevel = "warning"
	LevelError     DiagnosticLevel = "error"
	LevelInvariant DiagnosticLevel = "invariant" // Programming defect, distinct from error
)

// DiagnosticKind names the transition a diagnostic event records
type DiagnosticKind string

const (
	KindSessionCreated     DiagnosticKind = "session.created"
	KindDoseTaken          DiagnosticKind = "dose.taken"
	KindDose2Skipped       DiagnosticKind = "dose2.skipped"
	KindSnoozed            DiagnosticKind = "snooze.applied"
	KindUndoApplied        DiagnosticKind = "undo.applied"
	KindSessionCompleted   DiagnosticKind = "session.completed"
	KindSessionExpired     DiagnosticKind = "session.expired"
	KindSessionAborted     DiagnosticKind = "session.aborted"
	KindSessionDeleted     DiagnosticKind = "session.deleted"
	KindAdjunctLogged      DiagnosticKind = "adjunct.logged"
	KindActionRejected     DiagnosticKind = "action.rejected"
	KindInvariantViolation DiagnosticKind = "invariant.violation"
	KindSyncFailed         DiagnosticKind = "sync.failed"
)

// DiagnosticEvent is one append-only, sequence-numbered record
type DiagnosticEvent struct {
	SessionID string            `json:"session_id"`
	Seq       int64             `json:"seq"` // Contiguous per session, starting at 1
	Timestamp time.Time         `json:"timestamp"`
	Kind      DiagnosticKind    `json:"kind"`
	Level     DiagnosticLevel   `json:"level"`
	Fields    map[string]string `json:"fields,omitempty"`
}
