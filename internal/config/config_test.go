package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 25*time.Second, cfg.Coordinator.PollTimeout)
	assert.Equal(t, time.Minute, cfg.Worker.WatchdogPeriod)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  address: ":9000"
  read_timeout: 60s
  write_timeout: 60s
  enable_cors: true

coordinator:
  instance_id: farm-1
  poll_timeout: 10s

worker:
  coordinator_url: http://farm.internal:9000
  watchdog_period: 30s

logging:
  level: debug
  format: console
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Server.EnableCORS)
	assert.Equal(t, "farm-1", cfg.Coordinator.InstanceID)
	assert.Equal(t, 10*time.Second, cfg.Coordinator.PollTimeout)
	assert.Equal(t, "http://farm.internal:9000", cfg.Worker.CoordinatorURL)
	assert.Equal(t, 30*time.Second, cfg.Worker.WatchdogPeriod)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromNonExistentFile(t *testing.T) {
	cfg, err := LoadFromFile("/nonexistent/path/config.yaml")
	require.NoError(t, err) // missing file means defaults
	assert.Equal(t, DefaultConfig().Server.Address, cfg.Server.Address)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TF_SERVER_ADDRESS", ":7070")
	t.Setenv("TF_SERVER_READ_TIMEOUT", "45s")
	t.Setenv("TF_WORKER_WATCHDOG_PERIOD", "20s")
	t.Setenv("TF_LOG_LEVEL", "warn")
	t.Setenv("TF_SERVER_ENABLE_CORS", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 20*time.Second, cfg.Worker.WatchdogPeriod)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Server.EnableCORS)
}

func TestCmdOverrides(t *testing.T) {
	cmdArgs := map[string]string{
		"server.address":           ":6060",
		"server.read_timeout":      "90s",
		"coordinator.poll_timeout": "5s",
		"logging.level":            "error",
	}

	cfg, err := NewLoader().WithCmdArgs(cmdArgs).Load()
	require.NoError(t, err)

	assert.Equal(t, ":6060", cfg.Server.Address)
	assert.Equal(t, 90*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Second, cfg.Coordinator.PollTimeout)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestPrecedence(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  address: ":9000"
logging:
  level: debug
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("TF_SERVER_ADDRESS", ":8000")
	t.Setenv("TF_LOG_LEVEL", "info")

	cmdArgs := map[string]string{
		"server.address": ":7000",
	}

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		WithCmdArgs(cmdArgs).
		Load()
	require.NoError(t, err)

	// Command-line wins over env and file; env wins over file.
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Coordinator.PollTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Server.Address = ""
	assert.Error(t, cfg.Validate())
}

func TestInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidContent := `
server:
  address: ":9000"
  invalid yaml content here
    - broken
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0644)
	require.NoError(t, err)

	_, err = LoadFromFile(configPath)
	assert.Error(t, err)
}

func TestInvalidEnvValue(t *testing.T) {
	t.Setenv("TF_SERVER_READ_TIMEOUT", "invalid-duration")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestInvalidCmdPath(t *testing.T) {
	cmdArgs := map[string]string{
		"nonexistent.path": "value",
	}

	_, err := NewLoader().WithCmdArgs(cmdArgs).Load()
	assert.Error(t, err)
}
