package domain

import (
	"fmt"
	"time"
)

// AdjunctKind is a contextual night event recorded alongside doses
type AdjunctKind string

const (
	AdjunctBathroom    AdjunctKind = "bathroom"
	AdjunctWater       AdjunctKind = "water"
	AdjunctSnack       AdjunctKind = "snack"
	AdjunctLightsOut   AdjunctKind = "lights_out"
	AdjunctWakeFinal   AdjunctKind = "wake_final"
	AdjunctWakeTemp    AdjunctKind = "wake_temp"
	AdjunctAnxiety     AdjunctKind = "anxiety"
	AdjunctPain        AdjunctKind = "pain"
	AdjunctNoise       AdjunctKind = "noise"
	AdjunctTemperature AdjunctKind = "temperature"
	AdjunctNote        AdjunctKind = "note"
)

// DefaultAdjunctCooldowns returns the per-kind repeat cooldowns
func DefaultAdjunctCooldowns() map[AdjunctKind]time.Duration {
	return map[AdjunctKind]time.Duration{
		AdjunctBathroom:    60 * time.Second,
		AdjunctWater:       60 * time.Second,
		AdjunctSnack:       5 * time.Minute,
		AdjunctLightsOut:   time.Hour,
		AdjunctWakeFinal:   time.Hour,
		AdjunctWakeTemp:    60 * time.Second,
		AdjunctAnxiety:     5 * time.Minute,
		AdjunctPain:        5 * time.Minute,
		AdjunctNoise:       60 * time.Second,
		AdjunctTemperature: 5 * time.Minute,
		AdjunctNote:        0,
	}
}

// ParseAdjunctKind validates a kind against the known set
func ParseAdjunctKind(s string) (AdjunctKind, error) {
	k := AdjunctKind(s)
	if _, ok := DefaultAdjunctCooldowns()[k]; !ok {
		return "", fmt.Errorf("unknown adjunct event kind %q", s)
	}
	return k, nil
}

// AdjunctEvent is a contextual event logged during a night
type AdjunctEvent struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"session_id,omitempty"` // Empty when no session was active
	SessionDate SessionKey  `json:"session_date"`
	Kind        AdjunctKind `json:"kind"`
	At          time.Time   `json:"at"`
	Note        string      `json:"note,omitempty"`
}
