package domain

import (
	"fmt"
	"time"
)

// SessionKeyLayout is the date layout of a SessionKey
const SessionKeyLayout = "2006-01-02"

// SessionKey names the night a moment belongs to: the local calendar date
// on which that night started.
type SessionKey string

// ResolveSessionKey maps a moment to its night.
// A moment before rolloverHour on day D belongs to the night of D-1.
// All arithmetic happens in loc, never in the process zone.
func ResolveSessionKey(moment time.Time, rolloverHour int, loc *time.Location) SessionKey {
	local := moment.In(loc)
	y, m, d := local.Date()
	if local.Hour() < rolloverHour {
		// time.Date normalizes day 0 to the last day of the previous month
		d--
	}
	return SessionKey(time.Date(y, m, d, 0, 0, 0, 0, loc).Format(SessionKeyLayout))
}

// ParseSessionKey parses a key back into a date in loc
func ParseSessionKey(key SessionKey, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(SessionKeyLayout, string(key), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse session key %q: %w", key, err)
	}
	return t, nil
}

// NightStart returns the rollover instant that opens the night
func NightStart(key SessionKey, rolloverHour int, loc *time.Location) (time.Time, error) {
	day, err := ParseSessionKey(key, loc)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, rolloverHour, 0, 0, 0, loc), nil
}

// NightEnd returns the rollover instant that starts the following night
func NightEnd(key SessionKey, rolloverHour int, loc *time.Location) (time.Time, error) {
	day, err := ParseSessionKey(key, loc)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.Date()
	return time.Date(y, m, d+1, rolloverHour, 0, 0, 0, loc), nil
}

// MorningCutoff is wake time plus grace on the morning after the night started.
// time.Date keeps the wall-clock reading stable across DST transitions.
func MorningCutoff(key SessionKey, cfg SessionConfig, loc *time.Location) (time.Time, error) {
	day, err := ParseSessionKey(key, loc)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.Date()
	wake := time.Date(y, m, d+1, cfg.WakeHour, cfg.WakeMinute, 0, 0, loc)
	return wake.Add(time.Duration(cfg.CutoffGraceHours) * time.Hour), nil
}

// ExpiryCutoff returns the instant after which an open session is force-closed.
// A Dose 1 taken late in the night pushes the cutoff past the window close.
func ExpiryCutoff(s *Session, sessCfg SessionConfig, winCfg DoseWindowConfig) (time.Time, error) {
	loc, err := s.Location()
	if err != nil {
		return time.Time{}, err
	}
	cutoff, err := MorningCutoff(s.SessionDate, sessCfg, loc)
	if err != nil {
		return time.Time{}, err
	}
	grace := time.Duration(sessCfg.CutoffGraceHours) * time.Hour
	if s.Dose1At != nil {
		windowCutoff := s.Dose1At.Add(winCfg.Max()).Add(grace)
		if windowCutoff.After(cutoff) {
			cutoff = windowCutoff
		}
	} else if !s.CreatedAt.IsZero() {
		// An empty session opened after the morning cutoff still gets the grace period
		if floor := s.CreatedAt.Add(grace); floor.After(cutoff) {
			cutoff = floor
		}
	}
	return cutoff, nil
}
