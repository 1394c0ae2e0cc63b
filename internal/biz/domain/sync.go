package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// SyncStatus is the delivery state of a retry queue task
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncDelivered SyncStatus = "delivered"
	SyncFailed    SyncStatus = "failed"    // Attempt ceiling reached or permanent rejection
	SyncCancelled SyncStatus = "cancelled" // Owning session deleted
)

// SyncPayload is the body submitted to the remote mirror
type SyncPayload struct {
	SessionID  string          `json:"session_id"`
	Seq        int64           `json:"seq"`
	Kind       DiagnosticKind  `json:"kind"`
	OccurredAt time.Time       `json:"occurred_at"`
	Session    json.RawMessage `json:"session,omitempty"`
}

// SyncTask is one queued remote submission
type SyncTask struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	IdempotencyKey string     `json:"idempotency_key"`
	Payload        []byte     `json:"payload"`
	Attempts       int        `json:"attempts"`
	NextAttemptAt  time.Time  `json:"next_attempt_at"`
	Status         SyncStatus `json:"status"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IdempotencyKey derives the remote key for one diagnostic transition
func IdempotencyKey(sessionID string, seq int64) string {
	return fmt.Sprintf("%s:%d", sessionID, seq)
}

// BackoffConfig bounds retry delays
type BackoffConfig struct {
	Base        float64       // delay = Base^attempts seconds
	MaxDelay    time.Duration // Cap on a single delay
	MaxAttempts int           // Ceiling after which a task fails permanently
}

// DefaultBackoffConfig returns the default retry policy
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:        2,
		MaxDelay:    15 * time.Minute,
		MaxAttempts: 8,
	}
}

// Delay returns the wait before the next attempt after `attempts` failures
func (c BackoffConfig) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	seconds := math.Pow(c.Base, float64(attempts))
	if math.IsInf(seconds, 0) || math.IsNaN(seconds) || seconds >= c.MaxDelay.Seconds() {
		return c.MaxDelay
	}
	return time.Duration(seconds * float64(time.Second))
}

// Exhausted reports whether the task hit the attempt ceiling
func (c BackoffConfig) Exhausted(attempts int) bool {
	return attempts >= c.MaxAttempts
}
