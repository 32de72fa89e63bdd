package roomsync

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roomsync/roomsync/logging"
)

// Config holds the tunables of the booking consistency layer. Intervals
// and delays are carried as milliseconds so YAML and JSON configs stay
// plain integers; the accessor methods convert to time.Duration.
type Config struct {
	// SyncIntervalMs is the quick reconciliation cycle period.
	SyncIntervalMs int `json:"sync_interval_ms,omitempty" yaml:"sync_interval_ms,omitempty"`
	// FullSyncIntervalMs is the unconditional full push period.
	FullSyncIntervalMs int `json:"full_sync_interval_ms,omitempty" yaml:"full_sync_interval_ms,omitempty"`
	// LockTimeoutMs is how long a reservation lock is honored.
	LockTimeoutMs int `json:"lock_timeout_ms,omitempty" yaml:"lock_timeout_ms,omitempty"`
	// SettleDelayMs is the pause between acquiring a lock and the final
	// conflict re-check, giving in-flight remote writes time to land.
	SettleDelayMs int `json:"settle_delay_ms,omitempty" yaml:"settle_delay_ms,omitempty"`
	// ReleaseDelayMs is how long a lock is kept after a successful commit
	// so the mirrored write propagates before the slot reopens.
	ReleaseDelayMs int `json:"release_delay_ms,omitempty" yaml:"release_delay_ms,omitempty"`

	// MaxRetries and RetryDelayMs shape the remote tier's retry policy.
	MaxRetries   int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	RetryDelayMs int `json:"retry_delay_ms,omitempty" yaml:"retry_delay_ms,omitempty"`

	// SuggestionCap bounds how many alternatives a conflict check offers.
	SuggestionCap int `json:"suggestion_cap,omitempty" yaml:"suggestion_cap,omitempty"`

	// TimeSlots and Rooms are the bookable catalog.
	TimeSlots []string `json:"time_slots,omitempty" yaml:"time_slots,omitempty"`
	Rooms     []string `json:"rooms,omitempty" yaml:"rooms,omitempty"`

	// DeviceID identifies this instance in remote envelopes and locks.
	// Empty means a random identity per process.
	DeviceID string `json:"device_id,omitempty" yaml:"device_id,omitempty"`

	Logging logging.Config `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// DefaultTimeSlots is the canonical lesson grid. The gap between
// 09:45-10:30 and 11:00-11:45 is the morning break and is not bookable.
func DefaultTimeSlots() []string {
	return []string{
		"07:30-08:15",
		"08:15-09:00",
		"09:00-09:45",
		"09:45-10:30",
		"11:00-11:45",
		"11:45-12:30",
	}
}

// DefaultRooms returns the default room catalog.
func DefaultRooms() []string {
	return []string{"room1", "room2", "room3", "room4"}
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SyncIntervalMs:     2000,
		FullSyncIntervalMs: 30000,
		LockTimeoutMs:      300000,
		SettleDelayMs:      500,
		ReleaseDelayMs:     1000,
		MaxRetries:         3,
		RetryDelayMs:       1000,
		SuggestionCap:      5,
		TimeSlots:          DefaultTimeSlots(),
		Rooms:              DefaultRooms(),
		Logging:            logging.GetConfigFromEnv(),
	}
}

// LoadConfig reads a YAML or JSON config file and overlays it on the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	// YAML parses JSON as a subset, so one decoder covers both formats.
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s config %s: %w", detectFormat(path), path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the scheduler cannot run with.
func (c Config) Validate() error {
	if c.SyncIntervalMs <= 0 {
		return fmt.Errorf("sync_interval_ms must be positive, got %d", c.SyncIntervalMs)
	}
	if c.FullSyncIntervalMs < c.SyncIntervalMs {
		return fmt.Errorf("full_sync_interval_ms (%d) must be at least sync_interval_ms (%d)",
			c.FullSyncIntervalMs, c.SyncIntervalMs)
	}
	if c.LockTimeoutMs <= 0 {
		return fmt.Errorf("lock_timeout_ms must be positive, got %d", c.LockTimeoutMs)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if len(c.TimeSlots) == 0 {
		return fmt.Errorf("time_slots must not be empty")
	}
	if len(c.Rooms) == 0 {
		return fmt.Errorf("rooms must not be empty")
	}
	return nil
}

func detectFormat(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return "json"
	}
	return "yaml"
}

func (c Config) SyncInterval() time.Duration     { return time.Duration(c.SyncIntervalMs) * time.Millisecond }
func (c Config) FullSyncInterval() time.Duration { return time.Duration(c.FullSyncIntervalMs) * time.Millisecond }
func (c Config) LockTimeout() time.Duration      { return time.Duration(c.LockTimeoutMs) * time.Millisecond }
func (c Config) SettleDelay() time.Duration      { return time.Duration(c.SettleDelayMs) * time.Millisecond }
func (c Config) ReleaseDelay() time.Duration     { return time.Duration(c.ReleaseDelayMs) * time.Millisecond }
func (c Config) RetryDelay() time.Duration       { return time.Duration(c.RetryDelayMs) * time.Millisecond }
