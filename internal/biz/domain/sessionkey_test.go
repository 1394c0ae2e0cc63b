package domain

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return loc
}

func TestResolveSessionKey_Rollover(t *testing.T) {
	loc := mustLoad(t, "America/Chicago")

	tests := []struct {
		name   string
		moment time.Time
		want   SessionKey
	}{
		{"evening belongs to same day", time.Date(2026, 3, 10, 23, 40, 0, 0, loc), "2026-03-10"},
		{"after midnight belongs to previous day", time.Date(2026, 3, 11, 0, 50, 0, 0, loc), "2026-03-10"},
		{"morning belongs to previous day", time.Date(2026, 3, 11, 9, 0, 0, 0, loc), "2026-03-10"},
		{"one second before rollover", time.Date(2026, 3, 11, 17, 59, 59, 0, loc), "2026-03-10"},
		{"exactly at rollover starts new night", time.Date(2026, 3, 11, 18, 0, 0, 0, loc), "2026-03-11"},
		{"month boundary", time.Date(2026, 4, 1, 2, 0, 0, 0, loc), "2026-03-31"},
		{"year boundary", time.Date(2027, 1, 1, 3, 0, 0, 0, loc), "2026-12-31"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveSessionKey(tt.moment, 18, loc); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestResolveSessionKey_Dose1AndDose2SameNight(t *testing.T) {
	loc := mustLoad(t, "Europe/Berlin")
	dose1 := time.Date(2026, 6, 1, 23, 40, 0, 0, loc)
	dose2 := time.Date(2026, 6, 2, 0, 50, 0, 0, loc)

	k1 := ResolveSessionKey(dose1, 18, loc)
	k2 := ResolveSessionKey(dose2, 18, loc)
	if k1 != k2 {
		t.Fatalf("Expected same night, got %s and %s", k1, k2)
	}
	if k1 != "2026-06-01" {
		t.Errorf("Expected night of 2026-06-01, got %s", k1)
	}
}

func TestResolveSessionKey_StableAcrossZoneChange(t *testing.T) {
	zoneA := mustLoad(t, "America/New_York")
	zoneB := mustLoad(t, "Pacific/Honolulu")

	event := time.Date(2026, 9, 14, 23, 0, 0, 0, zoneA)
	assigned := ResolveSessionKey(event, 18, zoneA)

	// Observing the same instant from zone B with B's rules gives another night
	if naive := ResolveSessionKey(event, 18, zoneB); naive == assigned {
		t.Fatalf("Test precondition: expected zone B to disagree, both gave %s", naive)
	}

	// A session remembers its zone, so re-resolution through it is stable
	s := &Session{SessionDate: assigned, TimeZone: zoneA.String()}
	loc, err := s.Location()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	observed := event.In(zoneB)
	if got := ResolveSessionKey(observed, 18, loc); got != assigned {
		t.Errorf("Expected %s, got %s", assigned, got)
	}
}

func TestResolveSessionKey_DSTTransitions(t *testing.T) {
	loc := mustLoad(t, "America/New_York")

	// Spring forward: 02:00 -> 03:00 on 2026-03-08
	spring := time.Date(2026, 3, 8, 3, 30, 0, 0, loc)
	if got := ResolveSessionKey(spring, 18, loc); got != "2026-03-07" {
		t.Errorf("Spring forward: expected 2026-03-07, got %s", got)
	}

	// Fall back: 01:30 happens twice on 2026-11-01
	first := time.Date(2026, 11, 1, 1, 30, 0, 0, loc)
	second := first.Add(time.Hour)
	if first.In(loc).Hour() != second.In(loc).Hour() {
		t.Skip("zone data does not repeat 01:30")
	}
	if a, b := ResolveSessionKey(first, 18, loc), ResolveSessionKey(second, 18, loc); a != b || a != "2026-10-31" {
		t.Errorf("Fall back: expected both 2026-10-31, got %s and %s", a, b)
	}
}

func TestMorningCutoff(t *testing.T) {
	loc := mustLoad(t, "America/Chicago")
	cfg := DefaultSessionConfig()
	cfg.Location = loc

	cutoff, err := MorningCutoff("2026-03-10", cfg, loc)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := time.Date(2026, 3, 11, 9, 0, 0, 0, loc)
	if !cutoff.Equal(want) {
		t.Errorf("Expected %v, got %v", want, cutoff)
	}
}

func TestExpiryCutoff_LateDose1ExtendsCutoff(t *testing.T) {
	loc := time.UTC
	sessCfg := DefaultSessionConfig()
	winCfg := DefaultDoseWindowConfig()

	dose1 := time.Date(2026, 3, 11, 6, 30, 0, 0, loc)
	s := &Session{SessionDate: "2026-03-10", TimeZone: "UTC"}
	s.AppendDose(DoseEvent{Index: 1, TakenAt: dose1})

	cutoff, err := ExpiryCutoff(s, sessCfg, winCfg)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := dose1.Add(4 * time.Hour).Add(3 * time.Hour)
	if !cutoff.Equal(want) {
		t.Errorf("Expected %v, got %v", want, cutoff)
	}
}

func TestNightBounds(t *testing.T) {
	loc := mustLoad(t, "Europe/London")
	start, err := NightStart("2026-03-28", 18, loc)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	end, err := NightEnd("2026-03-28", 18, loc)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// The night contains the spring-forward transition, so it is 23h long
	if got := end.Sub(start); got != 23*time.Hour {
		t.Errorf("Expected 23h night, got %v", got)
	}
}

func TestExpiryCutoff_EmptySessionGetsGrace(t *testing.T) {
	sessCfg := DefaultSessionConfig()
	winCfg := DefaultDoseWindowConfig()

	created := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)
	s := &Session{SessionDate: "2026-03-10", TimeZone: "UTC", CreatedAt: created}

	cutoff, err := ExpiryCutoff(s, sessCfg, winCfg)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if want := created.Add(3 * time.Hour); !cutoff.Equal(want) {
		t.Errorf("Expected %v, got %v", want, cutoff)
	}

	// Created in the evening: the morning cutoff is later and wins
	s.CreatedAt = time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	cutoff, _ = ExpiryCutoff(s, sessCfg, winCfg)
	if want := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC); !cutoff.Equal(want) {
		t.Errorf("Expected %v, got %v", want, cutoff)
	}
}
