package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TerminalState records how a session ended
type TerminalState string

const (
	TerminalNone      TerminalState = "none"
	TerminalCompleted TerminalState = "completed"
	TerminalSkipped   TerminalState = "skipped"
	TerminalExpired   TerminalState = "expired"
	TerminalAborted   TerminalState = "aborted"
)

// DoseEvent is one recorded dose within a session
type DoseEvent struct {
	Index   int       `json:"index"` // 1 = Dose 1, 2 = canonical Dose 2, >=3 extra
	TakenAt time.Time `json:"taken_at"`
	IsLate  bool      `json:"is_late"`
	IsExtra bool      `json:"is_extra"`
}

// Session represents one candidate night
type Session struct {
	ID             string        `json:"id"`
	SessionDate    SessionKey    `json:"session_date"` // Reporting label, not authoritative for ownership
	TimeZone       string        `json:"time_zone"`    // Zone captured at creation
	Dose1At        *time.Time    `json:"dose1_at,omitempty"`
	DoseEvents     []DoseEvent   `json:"dose_events"`
	TargetMinutes  int           `json:"target_minutes"`
	SnoozeCount    int           `json:"snooze_count"`
	TerminalState  TerminalState `json:"terminal_state"`
	TerminalReason string        `json:"terminal_reason,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	ClosedAt       *time.Time    `json:"closed_at,omitempty"`
}

// IsActive reports whether the session is still open
func (s *Session) IsActive() bool {
	return s.TerminalState == TerminalNone || s.TerminalState == ""
}

// HasCanonicalDose2 reports whether Dose 2 has been recorded
func (s *Session) HasCanonicalDose2() bool {
	for _, e := range s.DoseEvents {
		if e.Index == 2 {
			return true
		}
	}
	return false
}

// Dose2 returns the canonical Dose 2 event, if any
func (s *Session) Dose2() *DoseEvent {
	for i := range s.DoseEvents {
		if s.DoseEvents[i].Index == 2 {
			return &s.DoseEvents[i]
		}
	}
	return nil
}

// NextDoseIndex returns the index the next dose would receive
func (s *Session) NextDoseIndex() int {
	return len(s.DoseEvents) + 1
}

// LastEventAt returns the timestamp of the newest dose event
func (s *Session) LastEventAt() (time.Time, bool) {
	if len(s.DoseEvents) == 0 {
		return time.Time{}, false
	}
	return s.DoseEvents[len(s.DoseEvents)-1].TakenAt, true
}

// TargetAt returns the current reminder instant for Dose 2
func (s *Session) TargetAt(cfg DoseWindowConfig) time.Time {
	if s.Dose1At == nil {
		return time.Time{}
	}
	target := s.TargetMinutes
	if target == 0 {
		target = cfg.DefaultTargetMinutes
	}
	return s.Dose1At.Add(time.Duration(target) * time.Minute)
}

// Location loads the zone the session was created in
func (s *Session) Location() (*time.Location, error) {
	if s.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load session zone %q: %w", s.TimeZone, err)
	}
	return loc, nil
}

// AppendDose appends a dose event and keeps Dose1At in sync
func (s *Session) AppendDose(e DoseEvent) {
	e.TakenAt = e.TakenAt.UTC()
	s.DoseEvents = append(s.DoseEvents, e)
	if e.Index == 1 {
		t := e.TakenAt
		s.Dose1At = &t
	}
}

// Close marks the session terminal
func (s *Session) Close(state TerminalState, reason string, at time.Time) {
	closedAt := at.UTC()
	s.TerminalState = state
	s.TerminalReason = reason
	s.ClosedAt = &closedAt
	s.UpdatedAt = closedAt
}

// Clone returns a deep copy
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Dose1At != nil {
		t := *s.Dose1At
		c.Dose1At = &t
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		c.ClosedAt = &t
	}
	if s.DoseEvents != nil {
		c.DoseEvents = make([]DoseEvent, len(s.DoseEvents))
		copy(c.DoseEvents, s.DoseEvents)
	}
	return &c
}

// Normalize converts every instant to UTC and strips monotonic readings
func (s *Session) Normalize() {
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if s.Dose1At != nil {
		t := s.Dose1At.UTC()
		s.Dose1At = &t
	}
	if s.ClosedAt != nil {
		t := s.ClosedAt.UTC()
		s.ClosedAt = &t
	}
	for i := range s.DoseEvents {
		s.DoseEvents[i].TakenAt = s.DoseEvents[i].TakenAt.UTC()
	}
	if s.TerminalState == "" {
		s.TerminalState = TerminalNone
	}
}

// EncodeSnapshot serializes the session for the undo ledger and storage
func EncodeSnapshot(s *Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot restores a session serialized by EncodeSnapshot
func DecodeSnapshot(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session snapshot: %w", err)
	}
	s.Normalize()
	return &s, nil
}
