package domain

import (
	"testing"
	"time"
)

func TestSession_SnapshotRoundTrip(t *testing.T) {
	base := time.Date(2026, 3, 10, 22, 0, 0, 123456789, time.FixedZone("X", -5*3600))
	s := &Session{
		ID:            "sess-1",
		SessionDate:   "2026-03-10",
		TimeZone:      "America/Chicago",
		TargetMinutes: 175,
		SnoozeCount:   1,
		TerminalState: TerminalNone,
		CreatedAt:     base,
		UpdatedAt:     base.Add(3 * time.Hour),
	}
	s.AppendDose(DoseEvent{Index: 1, TakenAt: base})
	s.AppendDose(DoseEvent{Index: 2, TakenAt: base.Add(160 * time.Minute)})
	s.AppendDose(DoseEvent{Index: 3, TakenAt: base.Add(200 * time.Minute), IsExtra: true})
	s.Normalize()

	data, err := EncodeSnapshot(s)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	restored, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(restored.DoseEvents) != len(s.DoseEvents) {
		t.Fatalf("Expected %d events, got %d", len(s.DoseEvents), len(restored.DoseEvents))
	}
	for i := range s.DoseEvents {
		want, got := s.DoseEvents[i], restored.DoseEvents[i]
		if want.Index != got.Index || want.IsLate != got.IsLate || want.IsExtra != got.IsExtra {
			t.Errorf("event %d: expected %+v, got %+v", i, want, got)
		}
		if !want.TakenAt.Equal(got.TakenAt) || want.TakenAt.Nanosecond() != got.TakenAt.Nanosecond() {
			t.Errorf("event %d: expected taken at %v, got %v", i, want.TakenAt, got.TakenAt)
		}
		if got.TakenAt.Location() != time.UTC {
			t.Errorf("event %d: expected UTC, got %v", i, got.TakenAt.Location())
		}
	}
	if restored.Dose1At == nil || !restored.Dose1At.Equal(*s.Dose1At) {
		t.Errorf("Expected dose1 %v, got %v", s.Dose1At, restored.Dose1At)
	}
	if restored.SnoozeCount != 1 || restored.TargetMinutes != 175 {
		t.Errorf("Unexpected restored counters: %+v", restored)
	}
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := &Session{ID: "s"}
	s.AppendDose(DoseEvent{Index: 1, TakenAt: time.Now()})

	c := s.Clone()
	c.AppendDose(DoseEvent{Index: 2, TakenAt: time.Now()})
	*c.Dose1At = c.Dose1At.Add(time.Hour)

	if len(s.DoseEvents) != 1 {
		t.Errorf("Expected original to keep 1 event, got %d", len(s.DoseEvents))
	}
	if s.Dose1At.Equal(*c.Dose1At) {
		t.Error("Expected Dose1At to be copied")
	}
}

func TestSession_DoseHelpers(t *testing.T) {
	s := &Session{ID: "s", TerminalState: TerminalNone}
	if s.NextDoseIndex() != 1 || s.HasCanonicalDose2() {
		t.Fatalf("Unexpected empty session state")
	}
	if _, ok := s.LastEventAt(); ok {
		t.Error("Expected no last event")
	}

	now := time.Date(2026, 1, 1, 22, 0, 0, 0, time.UTC)
	s.AppendDose(DoseEvent{Index: 1, TakenAt: now})
	s.AppendDose(DoseEvent{Index: 2, TakenAt: now.Add(3 * time.Hour), IsLate: true})

	if s.NextDoseIndex() != 3 {
		t.Errorf("Expected next index 3, got %d", s.NextDoseIndex())
	}
	if d2 := s.Dose2(); d2 == nil || !d2.IsLate {
		t.Errorf("Expected late Dose 2, got %+v", d2)
	}
	if last, _ := s.LastEventAt(); !last.Equal(now.Add(3 * time.Hour)) {
		t.Errorf("Unexpected last event %v", last)
	}

	s.Close(TerminalCompleted, "morning check-in", now.Add(9*time.Hour))
	if s.IsActive() || s.ClosedAt == nil {
		t.Errorf("Expected closed session, got %+v", s)
	}
}

func TestBackoffConfig_Delay(t *testing.T) {
	cfg := BackoffConfig{Base: 2, MaxDelay: time.Minute, MaxAttempts: 5}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, time.Minute},
		{1000, time.Minute},
	}
	for _, tt := range tests {
		if got := cfg.Delay(tt.attempts); got != tt.want {
			t.Errorf("attempts %d: expected %v, got %v", tt.attempts, tt.want, got)
		}
	}
	if cfg.Exhausted(4) || !cfg.Exhausted(5) {
		t.Error("Unexpected exhaustion boundary")
	}
}
