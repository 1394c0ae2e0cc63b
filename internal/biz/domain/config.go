package domain

import (
	"fmt"
	"time"
)

// DoseWindowConfig describes the Dose 2 window (value object)
type DoseWindowConfig struct {
	MinMinutes                int   `yaml:"min_minutes" json:"min_minutes"`
	MaxMinutes                int   `yaml:"max_minutes" json:"max_minutes"`
	NearCloseThresholdMinutes int   `yaml:"near_close_threshold_minutes" json:"near_close_threshold_minutes"`
	DefaultTargetMinutes      int   `yaml:"default_target_minutes" json:"default_target_minutes"`
	ValidTargetMinutes        []int `yaml:"valid_target_minutes" json:"valid_target_minutes"`
	SnoozeStepMinutes         int   `yaml:"snooze_step_minutes" json:"snooze_step_minutes"`
	MaxSnoozes                int   `yaml:"max_snoozes" json:"max_snoozes"`
	UndoWindowSeconds         int   `yaml:"undo_window_seconds" json:"undo_window_seconds"`
}

// DefaultDoseWindowConfig returns the process-wide default window
func DefaultDoseWindowConfig() DoseWindowConfig {
	return DoseWindowConfig{
		MinMinutes:                150,
		MaxMinutes:                240,
		NearCloseThresholdMinutes: 15,
		DefaultTargetMinutes:      165,
		ValidTargetMinutes:        []int{165, 180, 195, 210, 225},
		SnoozeStepMinutes:         10,
		MaxSnoozes:                3,
		UndoWindowSeconds:         5,
	}
}

// Validate checks the window invariants
func (c DoseWindowConfig) Validate() error {
	if c.MinMinutes <= 0 {
		return fmt.Errorf("min_minutes must be > 0, got %d", c.MinMinutes)
	}
	if !(c.MinMinutes < c.DefaultTargetMinutes && c.DefaultTargetMinutes < c.MaxMinutes) {
		return fmt.Errorf("require min_minutes < default_target_minutes < max_minutes, got %d/%d/%d",
			c.MinMinutes, c.DefaultTargetMinutes, c.MaxMinutes)
	}
	for _, t := range c.ValidTargetMinutes {
		if t < c.MinMinutes || t > c.MaxMinutes {
			return fmt.Errorf("valid target %d outside [%d, %d]", t, c.MinMinutes, c.MaxMinutes)
		}
	}
	if c.NearCloseThresholdMinutes < 0 || c.NearCloseThresholdMinutes >= c.MaxMinutes-c.MinMinutes {
		return fmt.Errorf("near_close_threshold_minutes %d must be within the window", c.NearCloseThresholdMinutes)
	}
	if c.SnoozeStepMinutes <= 0 {
		return fmt.Errorf("snooze_step_minutes must be > 0, got %d", c.SnoozeStepMinutes)
	}
	if c.MaxSnoozes < 1 || c.MaxSnoozes > 5 {
		return fmt.Errorf("max_snoozes must be in [1, 5], got %d", c.MaxSnoozes)
	}
	if c.UndoWindowSeconds < 3 || c.UndoWindowSeconds > 10 {
		return fmt.Errorf("undo_window_seconds must be in [3, 10], got %d", c.UndoWindowSeconds)
	}
	return nil
}

// IsValidTarget reports whether minutes is one of the selectable targets
func (c DoseWindowConfig) IsValidTarget(minutes int) bool {
	for _, t := range c.ValidTargetMinutes {
		if t == minutes {
			return true
		}
	}
	return false
}

// Min returns the window opening offset
func (c DoseWindowConfig) Min() time.Duration {
	return time.Duration(c.MinMinutes) * time.Minute
}

// Max returns the window closing offset
func (c DoseWindowConfig) Max() time.Duration {
	return time.Duration(c.MaxMinutes) * time.Minute
}

// NearClose returns the near-close threshold
func (c DoseWindowConfig) NearClose() time.Duration {
	return time.Duration(c.NearCloseThresholdMinutes) * time.Minute
}

// UndoWindow returns how long an undo token stays valid
func (c DoseWindowConfig) UndoWindow() time.Duration {
	return time.Duration(c.UndoWindowSeconds) * time.Second
}

// SessionConfig contains the night boundary settings (value object)
type SessionConfig struct {
	RolloverHour     int            // Local hour a new night starts (0-23)
	WakeHour         int            // Expected wake time, hour part
	WakeMinute       int            // Expected wake time, minute part
	CutoffGraceHours int            // Hours after wake before auto-expiry
	Location         *time.Location // Default zone when the caller supplies none
}

// DefaultSessionConfig returns the default night boundaries
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		RolloverHour:     18,
		WakeHour:         6,
		WakeMinute:       0,
		CutoffGraceHours: 3,
		Location:         time.UTC,
	}
}

// Validate checks the session boundary settings
func (c SessionConfig) Validate() error {
	if c.RolloverHour < 0 || c.RolloverHour > 23 {
		return fmt.Errorf("rollover hour must be in [0, 23], got %d", c.RolloverHour)
	}
	if c.WakeHour < 0 || c.WakeHour > 23 || c.WakeMinute < 0 || c.WakeMinute > 59 {
		return fmt.Errorf("invalid wake time %02d:%02d", c.WakeHour, c.WakeMinute)
	}
	if c.CutoffGraceHours < 0 {
		return fmt.Errorf("cutoff grace hours must be >= 0, got %d", c.CutoffGraceHours)
	}
	if c.Location == nil {
		return fmt.Errorf("location is required")
	}
	return nil
}
