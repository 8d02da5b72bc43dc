package warden

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, Duration(5*time.Second), config.Orchestrator.PollInterval)
	assert.Equal(t, 4, config.Orchestrator.Workers)
	assert.Equal(t, 3, config.Retry.MaxRetries)
	assert.Equal(t, Duration(24*time.Hour), config.Approval.TTL)
	assert.Equal(t, Duration(5*time.Minute), config.Dispatcher.Timeout)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
baseURL: /var/lib/agent
orchestrator:
  pollInterval: 2s
  workers: 8
retry:
  maxRetries: 5
  backoffBase: 1s
  backoffCap: 10s
approval:
  ttl: 1h
`), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/agent", config.BaseURL)
	assert.Equal(t, Duration(2*time.Second), config.Orchestrator.PollInterval)
	assert.Equal(t, 8, config.Orchestrator.Workers)
	assert.Equal(t, 5, config.Retry.MaxRetries)
	assert.Equal(t, Duration(time.Second), config.Retry.BackoffBase)
	assert.Equal(t, Duration(time.Hour), config.Approval.TTL)
	// Unset sections keep their defaults.
	assert.Equal(t, Duration(5*time.Minute), config.Dispatcher.Timeout)
}

func TestConfig_Validate(t *testing.T) {
	config := DefaultConfig()
	config.Retry.BackoffBase = Duration(time.Minute)
	config.Retry.BackoffCap = Duration(time.Second)
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.Retry.MaxRetries = -1
	assert.Error(t, config.Validate())
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
