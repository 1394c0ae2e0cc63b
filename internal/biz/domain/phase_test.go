package domain

import (
	"testing"
	"time"
)

func TestCalculatePhase_Boundaries(t *testing.T) {
	cfg := DefaultDoseWindowConfig()
	dose1 := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    Phase
	}{
		{"just taken", 0, PhaseBeforeWindow},
		{"one minute before open", 149 * time.Minute, PhaseBeforeWindow},
		{"one nanosecond before open", 150*time.Minute - time.Nanosecond, PhaseBeforeWindow},
		{"opens exactly at min", 150 * time.Minute, PhaseActive},
		{"last active minute", 224 * time.Minute, PhaseActive},
		{"near close starts at max minus threshold", 225 * time.Minute, PhaseNearClose},
		{"near close", 226 * time.Minute, PhaseNearClose},
		{"closed exactly at max", 240 * time.Minute, PhaseClosed},
		{"long after", 12 * time.Hour, PhaseClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculatePhase(&dose1, false, dose1.Add(tt.elapsed), cfg)
			if got != tt.want {
				t.Errorf("elapsed %v: expected %s, got %s", tt.elapsed, tt.want, got)
			}
		})
	}
}

func TestCalculatePhase_NoDose1(t *testing.T) {
	cfg := DefaultDoseWindowConfig()
	if got := CalculatePhase(nil, false, time.Now(), cfg); got != PhaseNoDose1 {
		t.Errorf("Expected no_dose1, got %s", got)
	}
}

func TestCalculatePhase_CompletedOverridesTime(t *testing.T) {
	cfg := DefaultDoseWindowConfig()
	dose1 := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)

	for _, elapsed := range []time.Duration{time.Minute, 160 * time.Minute, 230 * time.Minute, 10 * time.Hour} {
		if got := CalculatePhase(&dose1, true, dose1.Add(elapsed), cfg); got != PhaseCompleted {
			t.Errorf("elapsed %v: expected completed, got %s", elapsed, got)
		}
	}
}

func TestCalculatePhase_NegativeElapsedIsBeforeWindow(t *testing.T) {
	cfg := DefaultDoseWindowConfig()
	dose1 := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	if got := CalculatePhase(&dose1, false, dose1.Add(-time.Minute), cfg); got != PhaseBeforeWindow {
		t.Errorf("Expected before_window, got %s", got)
	}
}

func TestWindow_RemainingFigures(t *testing.T) {
	cfg := DefaultDoseWindowConfig()
	dose1 := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	s := &Session{
		ID:            "s1",
		TargetMinutes: cfg.DefaultTargetMinutes,
		SnoozeCount:   1,
	}
	s.AppendDose(DoseEvent{Index: 1, TakenAt: dose1})

	st := Window(s, dose1.Add(100*time.Minute), cfg)
	if st.Phase != PhaseBeforeWindow {
		t.Fatalf("Expected before_window, got %s", st.Phase)
	}
	if st.UntilOpen != 50*time.Minute {
		t.Errorf("Expected 50m until open, got %v", st.UntilOpen)
	}
	if st.UntilClose != 140*time.Minute {
		t.Errorf("Expected 140m until close, got %v", st.UntilClose)
	}
	if st.SnoozesLeft != 2 {
		t.Errorf("Expected 2 snoozes left, got %d", st.SnoozesLeft)
	}
	if st.TargetAt == nil || !st.TargetAt.Equal(dose1.Add(165*time.Minute)) {
		t.Errorf("Unexpected target: %v", st.TargetAt)
	}
	if st.Dose2Available {
		t.Error("Expected Dose 2 unavailable before the window opens")
	}

	st = Window(s, dose1.Add(241*time.Minute), cfg)
	if st.Phase != PhaseClosed || st.UntilClose != 0 || st.UntilOpen != 0 {
		t.Errorf("Unexpected closed status: %+v", st)
	}
}

func TestWindow_NilSession(t *testing.T) {
	cfg := DefaultDoseWindowConfig()
	st := Window(nil, time.Now(), cfg)
	if st.Phase != PhaseNoDose1 {
		t.Errorf("Expected no_dose1, got %s", st.Phase)
	}
	if st.SnoozesLeft != cfg.MaxSnoozes {
		t.Errorf("Expected %d snoozes left, got %d", cfg.MaxSnoozes, st.SnoozesLeft)
	}
}

func TestDoseWindowConfig_Validate(t *testing.T) {
	if err := DefaultDoseWindowConfig().Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}

	mutations := map[string]func(*DoseWindowConfig){
		"target below min":      func(c *DoseWindowConfig) { c.DefaultTargetMinutes = 140 },
		"target equals max":     func(c *DoseWindowConfig) { c.DefaultTargetMinutes = 240 },
		"valid target outside":  func(c *DoseWindowConfig) { c.ValidTargetMinutes = []int{165, 250} },
		"too many snoozes":      func(c *DoseWindowConfig) { c.MaxSnoozes = 6 },
		"zero snoozes":          func(c *DoseWindowConfig) { c.MaxSnoozes = 0 },
		"undo window too short": func(c *DoseWindowConfig) { c.UndoWindowSeconds = 2 },
		"undo window too long":  func(c *DoseWindowConfig) { c.UndoWindowSeconds = 11 },
		"zero snooze step":      func(c *DoseWindowConfig) { c.SnoozeStepMinutes = 0 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultDoseWindowConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}

func TestDoseWindowConfig_IsValidTarget(t *testing.T) {
	cfg := DefaultDoseWindowConfig()
	if !cfg.IsValidTarget(195) {
		t.Error("Expected 195 to be a valid target")
	}
	if cfg.IsValidTarget(170) {
		t.Error("Expected 170 to be rejected")
	}
}
