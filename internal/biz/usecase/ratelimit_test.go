package usecase

import (
	"testing"
	"time"

	"github.com/nightdose/nightdose/internal/biz/domain"
)

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(domain.DefaultAdjunctCooldowns())
	now := time.Date(2025, 9, 14, 23, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		kind  domain.AdjunctKind
		after time.Duration
		want  bool
	}{
		{"bathroom within cooldown", domain.AdjunctBathroom, 59 * time.Second, false},
		{"bathroom at cooldown", domain.AdjunctBathroom, 60 * time.Second, true},
		{"lights out within hour", domain.AdjunctLightsOut, 3599 * time.Second, false},
		{"lights out after hour", domain.AdjunctLightsOut, time.Hour, true},
		{"note has no cooldown", domain.AdjunctNote, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter.Register(tt.kind, now)
			if got := limiter.ShouldAllow(tt.kind, now.Add(tt.after)); got != tt.want {
				t.Errorf("ShouldAllow after %v = %v, want %v", tt.after, got, tt.want)
			}
		})
	}
}

func TestRateLimiter_ProbeDoesNotRegister(t *testing.T) {
	limiter := NewRateLimiter(domain.DefaultAdjunctCooldowns())
	now := time.Date(2025, 9, 14, 23, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !limiter.ShouldAllow(domain.AdjunctWater, now) {
			t.Fatal("Probing must not consume the allowance")
		}
	}
	limiter.Register(domain.AdjunctWater, now)
	if got := limiter.Remaining(domain.AdjunctWater, now.Add(15*time.Second)); got != 45*time.Second {
		t.Errorf("Expected 45s remaining, got %v", got)
	}
	if !limiter.ShouldAllow(domain.AdjunctSnack, now) {
		t.Error("Kinds must not share cooldowns")
	}
}
