package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nightdose/nightdose/internal/biz/domain"
)

// WindowFileConfig is the YAML overlay for the dose window and adjunct cooldowns
type WindowFileConfig struct {
	Window          domain.DoseWindowConfig `yaml:"window"`
	CooldownSeconds map[string]int          `yaml:"cooldown_seconds"`
}

// LoadWindowConfig loads the window overlay from YAML.
// A missing file yields the defaults.
func LoadWindowConfig(configPath string) (*WindowFileConfig, error) {
	// Try multiple paths
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/nightdose.yaml",
			"/etc/nightdose/nightdose.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "nightdose.yaml"))
		}
		if homeDir, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(homeDir, ".nightdose", "nightdose.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data = b
			loadedPath = p
			break
		}
	}

	if data == nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to read %s", configPath)
		}
		fmt.Println("[Config] No nightdose.yaml found, using defaults")
		return DefaultWindowFileConfig(), nil
	}

	fmt.Printf("[Config] Loading window config from: %s\n", loadedPath)

	var config WindowFileConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", loadedPath, err)
	}
	config.fillDefaults()
	return &config, nil
}

// DefaultWindowFileConfig returns the built-in window and cooldowns
func DefaultWindowFileConfig() *WindowFileConfig {
	cooldowns := make(map[string]int)
	for kind, d := range domain.DefaultAdjunctCooldowns() {
		cooldowns[string(kind)] = int(d / time.Second)
	}
	return &WindowFileConfig{
		Window:          domain.DefaultDoseWindowConfig(),
		CooldownSeconds: cooldowns,
	}
}

// fillDefaults fills in default values for empty fields
func (c *WindowFileConfig) fillDefaults() {
	defaults := DefaultWindowFileConfig()
	w := &c.Window
	d := defaults.Window

	if w.MinMinutes == 0 {
		w.MinMinutes = d.MinMinutes
	}
	if w.MaxMinutes == 0 {
		w.MaxMinutes = d.MaxMinutes
	}
	if w.NearCloseThresholdMinutes == 0 {
		w.NearCloseThresholdMinutes = d.NearCloseThresholdMinutes
	}
	if w.DefaultTargetMinutes == 0 {
		w.DefaultTargetMinutes = d.DefaultTargetMinutes
	}
	if len(w.ValidTargetMinutes) == 0 {
		w.ValidTargetMinutes = d.ValidTargetMinutes
	}
	if w.SnoozeStepMinutes == 0 {
		w.SnoozeStepMinutes = d.SnoozeStepMinutes
	}
	if w.MaxSnoozes == 0 {
		w.MaxSnoozes = d.MaxSnoozes
	}
	if w.UndoWindowSeconds == 0 {
		w.UndoWindowSeconds = d.UndoWindowSeconds
	}

	if c.CooldownSeconds == nil {
		c.CooldownSeconds = make(map[string]int)
	}
	for kind, seconds := range defaults.CooldownSeconds {
		if _, ok := c.CooldownSeconds[kind]; !ok {
			c.CooldownSeconds[kind] = seconds
		}
	}
}

// Cooldowns converts the overlay into per-kind cooldowns
func (c *WindowFileConfig) Cooldowns() (map[domain.AdjunctKind]time.Duration, error) {
	cooldowns := make(map[domain.AdjunctKind]time.Duration, len(c.CooldownSeconds))
	for name, seconds := range c.CooldownSeconds {
		kind, err := domain.ParseAdjunctKind(name)
		if err != nil {
			return nil, err
		}
		if seconds < 0 {
			return nil, fmt.Errorf("cooldown for %s must be >= 0, got %d", name, seconds)
		}
		cooldowns[kind] = time.Duration(seconds) * time.Second
	}
	return cooldowns, nil
}
