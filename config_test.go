package roomsync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Second, cfg.SyncInterval())
	assert.Equal(t, 30*time.Second, cfg.FullSyncInterval())
	assert.Equal(t, 5*time.Minute, cfg.LockTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.SettleDelay())
	assert.Equal(t, time.Second, cfg.ReleaseDelay())
	assert.Len(t, cfg.TimeSlots, 6)
	assert.Len(t, cfg.Rooms, 4)
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sync_interval_ms: 5000
rooms:
  - labA
  - labB
device_id: kiosk-1
logging:
  level: debug
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.SyncInterval())
	assert.Equal(t, []string{"labA", "labB"}, cfg.Rooms)
	assert.Equal(t, "kiosk-1", cfg.DeviceID)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched fields keep defaults.
	assert.Equal(t, 30*time.Second, cfg.FullSyncInterval())
	assert.Len(t, cfg.TimeSlots, 6)
}

func TestLoadConfigAcceptsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_retries": 5, "retry_delay_ms": 250}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay())
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync_interval_ms: -1\n"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FullSyncIntervalMs = cfg.SyncIntervalMs - 1
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Rooms = nil
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxRetries = 0
	require.Error(t, cfg.Validate())
}
