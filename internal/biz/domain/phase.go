package domain

import "time"

// Phase is the derived position of a session along the dosing timeline.
// It is never stored; callers recompute it at every observation point.
type Phase string

const (
	PhaseNoDose1      Phase = "no_dose1"
	PhaseBeforeWindow Phase = "before_window"
	PhaseActive       Phase = "active"
	PhaseNearClose    Phase = "near_close"
	PhaseClosed       Phase = "closed"
	PhaseCompleted    Phase = "completed"
)

// CanTakeDose2 reports whether Dose 2 is accepted without an override
func (p Phase) CanTakeDose2() bool {
	return p == PhaseActive || p == PhaseNearClose
}

// CalculatePhase maps Dose 1 time and now onto a phase.
// Boundary values belong to the later phase.
func CalculatePhase(dose1At *time.Time, dose2Taken bool, now time.Time, cfg DoseWindowConfig) Phase {
	if dose1At == nil {
		return PhaseNoDose1
	}
	if dose2Taken {
		return PhaseCompleted
	}

	elapsed := now.Sub(*dose1At)
	switch {
	case elapsed < cfg.Min():
		return PhaseBeforeWindow
	case elapsed < cfg.Max()-cfg.NearClose():
		return PhaseActive
	case elapsed < cfg.Max():
		return PhaseNearClose
	default:
		return PhaseClosed
	}
}

// WindowStatus is a point-in-time view of the window for rendering
type WindowStatus struct {
	Phase          Phase         `json:"phase"`
	Elapsed        time.Duration `json:"elapsed"`
	UntilOpen      time.Duration `json:"until_open"`  // Zero once the window opened
	UntilClose     time.Duration `json:"until_close"` // Zero once the window closed
	OpensAt        *time.Time    `json:"opens_at,omitempty"`
	ClosesAt       *time.Time    `json:"closes_at,omitempty"`
	TargetAt       *time.Time    `json:"target_at,omitempty"`
	SnoozesLeft    int           `json:"snoozes_left"`
	ObservedAt     time.Time     `json:"observed_at"`
	Dose2Available bool          `json:"dose2_available"`
}

// Window computes the phase together with the remaining/elapsed figures
func Window(s *Session, now time.Time, cfg DoseWindowConfig) WindowStatus {
	status := WindowStatus{
		Phase:       PhaseNoDose1,
		ObservedAt:  now,
		SnoozesLeft: cfg.MaxSnoozes,
	}
	if s == nil {
		return status
	}

	status.SnoozesLeft = cfg.MaxSnoozes - s.SnoozeCount
	if status.SnoozesLeft < 0 {
		status.SnoozesLeft = 0
	}
	status.Phase = CalculatePhase(s.Dose1At, s.HasCanonicalDose2(), now, cfg)
	if s.Dose1At == nil {
		return status
	}

	dose1 := *s.Dose1At
	opens := dose1.Add(cfg.Min())
	closes := dose1.Add(cfg.Max())
	target := s.TargetAt(cfg)
	status.OpensAt = &opens
	status.ClosesAt = &closes
	status.TargetAt = &target
	status.Elapsed = now.Sub(dose1)
	if now.Before(opens) {
		status.UntilOpen = opens.Sub(now)
	}
	if now.Before(closes) {
		status.UntilClose = closes.Sub(now)
	}
	status.Dose2Available = status.Phase.CanTakeDose2()
	return status
}
