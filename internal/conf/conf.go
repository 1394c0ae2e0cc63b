package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nightdose/nightdose/internal/biz/domain"
)

// Config represents application configuration
type Config struct {
	// Storage configuration
	Storage StorageConfig

	// HTTP API configuration
	API APIConfig

	// Night boundary configuration
	Night NightConfig

	// Dose window and cooldowns (loaded from YAML, overridden by env)
	Window *WindowFileConfig

	// Boundary runner configuration
	Boundary BoundaryConfig

	// Remote sync configuration (optional)
	Sync SyncConfig

	// Debug mode
	Debug bool
}

// StorageConfig contains SQLite settings
type StorageConfig struct {
	DBPath  string
	Retries int // Attempts per durable write
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	Port int
	URL  string // Base URL used by the MCP server and dosectl
}

// NightConfig contains the night boundary settings
type NightConfig struct {
	TimeZone         string
	RolloverHour     int
	WakeTime         string // HH:MM
	CutoffGraceHours int
}

// BoundaryConfig contains boundary runner settings
type BoundaryConfig struct {
	TickSeconds int
}

// SyncConfig contains retry queue settings
type SyncConfig struct {
	Endpoint        string // Empty disables remote mirroring
	MaxAttempts     int
	BackoffBase     float64
	MaxDelaySeconds int
	PollSeconds     int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	dbPath := os.Getenv("NIGHTDOSE_DB_PATH")
	if dbPath == "" {
		homeDir, _ := os.UserHomeDir()
		dbPath = filepath.Join(homeDir, ".nightdose", "nightdose.db")
	}

	apiPort := envInt("NIGHTDOSE_API_PORT", 8765)
	apiURL := os.Getenv("NIGHTDOSE_API_URL")
	if apiURL == "" {
		apiURL = fmt.Sprintf("http://127.0.0.1:%d", apiPort)
	}

	timeZone := os.Getenv("NIGHTDOSE_TIMEZONE")
	if timeZone == "" {
		timeZone = "Local"
	}

	wakeTime := os.Getenv("WAKE_TIME")
	if wakeTime == "" {
		wakeTime = "06:00"
	}

	// Load window from YAML, then apply env overrides
	window, err := LoadWindowConfig(os.Getenv("NIGHTDOSE_CONFIG_PATH"))
	if err != nil {
		return nil, err
	}
	if val := os.Getenv("MAX_SNOOZES"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			window.Window.MaxSnoozes = parsed
		}
	}
	if val := os.Getenv("UNDO_WINDOW_SECONDS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			window.Window.UndoWindowSeconds = parsed
		}
	}

	backoff := domain.DefaultBackoffConfig()
	backoffBase := backoff.Base
	if val := os.Getenv("SYNC_BACKOFF_BASE"); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			backoffBase = parsed
		}
	}

	return &Config{
		Storage: StorageConfig{
			DBPath:  dbPath,
			Retries: envInt("STORAGE_RETRIES", 3),
		},
		API: APIConfig{
			Port: apiPort,
			URL:  strings.TrimRight(apiURL, "/"),
		},
		Night: NightConfig{
			TimeZone:         timeZone,
			RolloverHour:     envInt("ROLLOVER_HOUR", 18),
			WakeTime:         wakeTime,
			CutoffGraceHours: envInt("CUTOFF_GRACE_HOURS", 3),
		},
		Window: window,
		Boundary: BoundaryConfig{
			TickSeconds: envInt("BOUNDARY_TICK_SECONDS", 60),
		},
		Sync: SyncConfig{
			Endpoint:        os.Getenv("SYNC_ENDPOINT"),
			MaxAttempts:     envInt("SYNC_MAX_ATTEMPTS", backoff.MaxAttempts),
			BackoffBase:     backoffBase,
			MaxDelaySeconds: envInt("SYNC_MAX_DELAY_SECONDS", int(backoff.MaxDelay/time.Second)),
			PollSeconds:     envInt("SYNC_POLL_SECONDS", 10),
		},
		Debug: os.Getenv("DEBUG") == "true",
	}, nil
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

// ToWindowConfig returns the dose window
func (c *Config) ToWindowConfig() domain.DoseWindowConfig {
	if c.Window == nil {
		return domain.DefaultDoseWindowConfig()
	}
	return c.Window.Window
}

// ToSessionConfig converts to domain session configuration
func (c *Config) ToSessionConfig() (domain.SessionConfig, error) {
	loc, err := time.LoadLocation(c.Night.TimeZone)
	if err != nil {
		return domain.SessionConfig{}, &ConfigError{Field: "NIGHTDOSE_TIMEZONE", Message: err.Error()}
	}
	hour, minute, err := parseClock(c.Night.WakeTime)
	if err != nil {
		return domain.SessionConfig{}, &ConfigError{Field: "WAKE_TIME", Message: err.Error()}
	}
	return domain.SessionConfig{
		RolloverHour:     c.Night.RolloverHour,
		WakeHour:         hour,
		WakeMinute:       minute,
		CutoffGraceHours: c.Night.CutoffGraceHours,
		Location:         loc,
	}, nil
}

// ToBackoffConfig converts to the retry queue policy
func (c *Config) ToBackoffConfig() domain.BackoffConfig {
	return domain.BackoffConfig{
		Base:        c.Sync.BackoffBase,
		MaxDelay:    time.Duration(c.Sync.MaxDelaySeconds) * time.Second,
		MaxAttempts: c.Sync.MaxAttempts,
	}
}

// ToCooldowns returns the adjunct cooldowns
func (c *Config) ToCooldowns() (map[domain.AdjunctKind]time.Duration, error) {
	if c.Window == nil {
		return domain.DefaultAdjunctCooldowns(), nil
	}
	return c.Window.Cooldowns()
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.DBPath == "" {
		return &ConfigError{Field: "NIGHTDOSE_DB_PATH", Message: "required"}
	}
	if c.Storage.Retries < 1 {
		return &ConfigError{Field: "STORAGE_RETRIES", Message: "must be >= 1"}
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return &ConfigError{Field: "NIGHTDOSE_API_PORT", Message: fmt.Sprintf("invalid port %d", c.API.Port)}
	}
	if err := c.ToWindowConfig().Validate(); err != nil {
		return &ConfigError{Field: "window", Message: err.Error()}
	}
	if _, err := c.ToCooldowns(); err != nil {
		return &ConfigError{Field: "cooldown_seconds", Message: err.Error()}
	}
	night, err := c.ToSessionConfig()
	if err != nil {
		return err
	}
	if err := night.Validate(); err != nil {
		return &ConfigError{Field: "ROLLOVER_HOUR/WAKE_TIME/CUTOFF_GRACE_HOURS", Message: err.Error()}
	}
	if c.Boundary.TickSeconds < 1 {
		return &ConfigError{Field: "BOUNDARY_TICK_SECONDS", Message: "must be >= 1"}
	}
	if c.Sync.Endpoint != "" {
		if c.Sync.MaxAttempts < 1 {
			return &ConfigError{Field: "SYNC_MAX_ATTEMPTS", Message: "must be >= 1"}
		}
		if c.Sync.BackoffBase <= 1 {
			return &ConfigError{Field: "SYNC_BACKOFF_BASE", Message: "must be > 1"}
		}
		if c.Sync.MaxDelaySeconds < 1 {
			return &ConfigError{Field: "SYNC_MAX_DELAY_SECONDS", Message: "must be >= 1"}
		}
		if c.Sync.PollSeconds < 1 {
			return &ConfigError{Field: "SYNC_POLL_SECONDS", Message: "must be >= 1"}
		}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
