package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/gameserver-doctor/pkg/types"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
settings:
  logLevel: debug
  dryRun: true
redis:
  address: redis.internal:6379
monitoring:
  statusPollInterval: 15s
  statusCacheTTL: 45s
servers:
  - id: srv-1
    name: arena-eu-1
    host: 198.51.100.1
    queryPort: 27015
    mode: a2s
    autoRestart: true
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Settings.LogLevel)
	assert.True(t, config.Settings.DryRun)
	assert.Equal(t, "redis.internal:6379", config.Redis.Address)
	assert.Equal(t, "15s", config.Monitoring.StatusPollInterval)

	// Unset fields picked up defaults.
	assert.Equal(t, "json", config.Settings.LogFormat)
	assert.Equal(t, types.DefaultHTTPPort, config.Health.Port)
	assert.Equal(t, types.DefaultRestartMaxAttempts, config.Monitoring.RestartMaxAttempts)

	require.Len(t, config.Servers, 1)
	assert.Equal(t, types.MonitorModeA2S, config.Servers[0].Mode)
	assert.True(t, config.Servers[0].AutoRestart)
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeConfigFile(t, "config.json", `{
  "settings": {"logLevel": "warn"},
  "health": {"port": 9090}
}`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", config.Settings.LogLevel)
	assert.Equal(t, 9090, config.Health.Port)
}

func TestLoadConfigEnvSubstitution(t *testing.T) {
	t.Setenv("GSD_REDIS_ADDR", "10.0.0.5:6379")
	t.Setenv("GSD_HTTP_PORT", "9191")

	path := writeConfigFile(t, "config.yaml", `
redis:
  address: ${GSD_REDIS_ADDR}
health:
  port: ${GSD_HTTP_PORT}
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:6379", config.Redis.Address)
	assert.Equal(t, 9191, config.Health.Port)
}

func TestLoadConfigInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad log level", "settings:\n  logLevel: loud\n"},
		{"poll interval too low", "monitoring:\n  statusPollInterval: 1s\n"},
		{"ttl below interval", "monitoring:\n  statusPollInterval: 30s\n  statusCacheTTL: 10s\n"},
		{"restart window too short", "monitoring:\n  restartWindow: 5s\n"},
		{"duplicate server id", "servers:\n  - id: srv-1\n  - id: srv-1\n"},
		{"invalid server mode", "servers:\n  - id: srv-1\n    mode: snmp\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, "config.yaml", tt.content)
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigUnparseable(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", "{{not yaml")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigOrDefault(t *testing.T) {
	config, err := LoadConfigOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, types.DefaultLogLevel, config.Settings.LogLevel)
	assert.Equal(t, types.DefaultRedisAddress, config.Redis.Address)
	assert.Empty(t, config.Servers)
}
