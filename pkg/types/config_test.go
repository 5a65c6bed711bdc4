package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()

	config := &Config{}
	require.NoError(t, config.ApplyDefaults())
	require.NoError(t, config.Validate())
	return config
}

func TestApplyDefaults(t *testing.T) {
	config := validConfig(t)

	assert.Equal(t, DefaultLogLevel, config.Settings.LogLevel)
	assert.Equal(t, DefaultLogFormat, config.Settings.LogFormat)
	assert.Equal(t, DefaultRedisAddress, config.Redis.Address)
	assert.Equal(t, DefaultStatusPollInterval, config.Monitoring.StatusPollInterval)
	assert.Equal(t, DefaultRestartMaxAttempts, config.Monitoring.RestartMaxAttempts)
	assert.Equal(t, DefaultHTTPPort, config.Health.Port)
	assert.Equal(t, DefaultMetricsPath, config.Health.MetricsPath)
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	config := &Config{}
	config.Settings.LogLevel = "debug"
	config.Monitoring.RestartMaxAttempts = 2

	require.NoError(t, config.ApplyDefaults())
	assert.Equal(t, "debug", config.Settings.LogLevel)
	assert.Equal(t, 2, config.Monitoring.RestartMaxAttempts)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Settings.LogLevel = "loud" }},
		{"bad log format", func(c *Config) { c.Settings.LogFormat = "xml" }},
		{"file output without path", func(c *Config) { c.Settings.LogOutput = "file" }},
		{"poll interval below minimum", func(c *Config) { c.Monitoring.StatusPollInterval = "1s" }},
		{"unparseable poll interval", func(c *Config) { c.Monitoring.StatusPollInterval = "soon" }},
		{"ttl below interval", func(c *Config) { c.Monitoring.StatusCacheTTL = "10s" }},
		{"query timeout below minimum", func(c *Config) { c.Monitoring.QueryTimeout = "100ms" }},
		{"restart window below minimum", func(c *Config) { c.Monitoring.RestartWindow = "30s" }},
		{"zero restart attempts", func(c *Config) { c.Monitoring.RestartMaxAttempts = -1 }},
		{"port out of range", func(c *Config) { c.Health.Port = 70000 }},
		{"server without id", func(c *Config) { c.Servers = []GameServer{{Name: "x"}} }},
		{"duplicate server ids", func(c *Config) {
			c.Servers = []GameServer{{ID: "srv-1"}, {ID: "srv-1"}}
		}},
		{"invalid server mode", func(c *Config) {
			c.Servers = []GameServer{{ID: "srv-1", Mode: "snmp"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}
			require.NoError(t, config.ApplyDefaults())
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	config := validConfig(t)

	interval, err := config.Monitoring.StatusPollIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, interval)

	ttl, err := config.Monitoring.StatusCacheTTLDuration()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, ttl)

	window, err := config.Monitoring.RestartWindowDuration()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, window)
}
