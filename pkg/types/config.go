// Package types defines configuration types for GameServer Doctor.
package types

import (
	"fmt"
	"time"
)

// Package-level defaults
const (
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultLogOutput           = "stdout"
	DefaultRedisAddress        = "127.0.0.1:6379"
	DefaultHTTPPort            = 8080
	DefaultHTTPBindAddress     = "0.0.0.0"
	DefaultMetricsPath         = "/metrics"
	DefaultStatusPollInterval  = "30s"
	DefaultStatusCacheTTL      = "60s"
	DefaultVersionPollInterval = "1h"
	DefaultQueryTimeout        = "5s"
	DefaultCommandTimeout      = "30s"
	DefaultRestartWindow       = "10m"
	DefaultRestartMaxAttempts  = 5
)

// Package-level variables for validation
var (
	// Valid log levels
	validLogLevels = map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}

	// Valid log formats
	validLogFormats = map[string]bool{
		"json": true,
		"text": true,
	}

	// Valid log outputs
	validLogOutputs = map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}

	// Minimum interval thresholds to prevent hammering remote hosts
	MinPollInterval  = 5 * time.Second
	MinQueryTimeout  = 500 * time.Millisecond
	MinRestartWindow = 1 * time.Minute
)

// Config is the top-level daemon configuration structure.
type Config struct {
	// Settings contains global configuration
	Settings GlobalSettings `json:"settings" yaml:"settings"`

	// Redis configures the cache/log backing store
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// Database configures the server persistence store
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Monitoring contains probe, poller and remediation tuning
	Monitoring MonitoringConfig `json:"monitoring" yaml:"monitoring"`

	// Health configures the HTTP health/status server
	Health HealthConfig `json:"health" yaml:"health"`

	// Servers is a static fleet used when no database is configured.
	// Ignored when Database.DSN is set.
	Servers []GameServer `json:"servers,omitempty" yaml:"servers,omitempty"`
}

// GlobalSettings contains process-wide configuration.
type GlobalSettings struct {
	// LogLevel controls logging verbosity (debug, info, warn, error, fatal)
	LogLevel string `json:"logLevel" yaml:"logLevel"`

	// LogFormat selects the log output format (json, text)
	LogFormat string `json:"logFormat" yaml:"logFormat"`

	// LogOutput selects the log destination (stdout, stderr, file)
	LogOutput string `json:"logOutput" yaml:"logOutput"`

	// LogFile is the log file path when LogOutput is "file"
	LogFile string `json:"logFile,omitempty" yaml:"logFile,omitempty"`

	// DryRun disables remediation; restarts are logged but not executed
	DryRun bool `json:"dryRun" yaml:"dryRun"`
}

// RedisConfig configures the backing key/value store.
type RedisConfig struct {
	// Address is the host:port of the Redis instance
	Address string `json:"address" yaml:"address"`

	// Password authenticates against Redis, empty for none
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// DB selects the Redis logical database
	DB int `json:"db" yaml:"db"`
}

// DatabaseConfig configures the MySQL persistence store.
type DatabaseConfig struct {
	// DSN is a go-sql-driver/mysql data source name
	DSN string `json:"dsn" yaml:"dsn"`
}

// MonitoringConfig contains probe, poller and remediation tuning.
// Duration fields are strings in time.ParseDuration format, matching the
// YAML/JSON representation.
type MonitoringConfig struct {
	// StatusPollInterval is the A2S status poller cycle time
	StatusPollInterval string `json:"statusPollInterval" yaml:"statusPollInterval"`

	// StatusCacheTTL is the expiry of cached status snapshots. It should be
	// slightly longer than StatusPollInterval so a missed cycle does not
	// blank the cache.
	StatusCacheTTL string `json:"statusCacheTTL" yaml:"statusCacheTTL"`

	// VersionPollInterval is the slow version poller cycle time and cache TTL
	VersionPollInterval string `json:"versionPollInterval" yaml:"versionPollInterval"`

	// VersionURL is the endpoint the version poller fetches
	VersionURL string `json:"versionURL,omitempty" yaml:"versionURL,omitempty"`

	// QueryTimeout bounds each A2S query
	QueryTimeout string `json:"queryTimeout" yaml:"queryTimeout"`

	// CommandTimeout bounds each remote command execution
	CommandTimeout string `json:"commandTimeout" yaml:"commandTimeout"`

	// RestartWindow is the sliding window for restart rate limiting
	RestartWindow string `json:"restartWindow" yaml:"restartWindow"`

	// RestartMaxAttempts is the maximum restarts per server per window
	RestartMaxAttempts int `json:"restartMaxAttempts" yaml:"restartMaxAttempts"`
}

// HealthConfig contains configuration for the HTTP health/status server.
type HealthConfig struct {
	// Enabled controls whether the health server is running
	Enabled bool `json:"enabled" yaml:"enabled"`

	// BindAddress is the address to bind to (default: 0.0.0.0)
	BindAddress string `json:"bindAddress" yaml:"bindAddress"`

	// Port is the port to listen on (default: 8080)
	Port int `json:"port" yaml:"port"`

	// MetricsPath is the Prometheus scrape path (default: /metrics)
	MetricsPath string `json:"metricsPath" yaml:"metricsPath"`
}

// ApplyDefaults fills in zero-valued fields with package defaults.
func (c *Config) ApplyDefaults() error {
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = DefaultLogLevel
	}
	if c.Settings.LogFormat == "" {
		c.Settings.LogFormat = DefaultLogFormat
	}
	if c.Settings.LogOutput == "" {
		c.Settings.LogOutput = DefaultLogOutput
	}
	if c.Redis.Address == "" {
		c.Redis.Address = DefaultRedisAddress
	}
	if c.Monitoring.StatusPollInterval == "" {
		c.Monitoring.StatusPollInterval = DefaultStatusPollInterval
	}
	if c.Monitoring.StatusCacheTTL == "" {
		c.Monitoring.StatusCacheTTL = DefaultStatusCacheTTL
	}
	if c.Monitoring.VersionPollInterval == "" {
		c.Monitoring.VersionPollInterval = DefaultVersionPollInterval
	}
	if c.Monitoring.QueryTimeout == "" {
		c.Monitoring.QueryTimeout = DefaultQueryTimeout
	}
	if c.Monitoring.CommandTimeout == "" {
		c.Monitoring.CommandTimeout = DefaultCommandTimeout
	}
	if c.Monitoring.RestartWindow == "" {
		c.Monitoring.RestartWindow = DefaultRestartWindow
	}
	if c.Monitoring.RestartMaxAttempts == 0 {
		c.Monitoring.RestartMaxAttempts = DefaultRestartMaxAttempts
	}
	if c.Health.BindAddress == "" {
		c.Health.BindAddress = DefaultHTTPBindAddress
	}
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHTTPPort
	}
	if c.Health.MetricsPath == "" {
		c.Health.MetricsPath = DefaultMetricsPath
	}
	return nil
}

// Validate checks the configuration for invalid or dangerous values.
// ApplyDefaults should be called first.
func (c *Config) Validate() error {
	if !validLogLevels[c.Settings.LogLevel] {
		return fmt.Errorf("invalid log level %q", c.Settings.LogLevel)
	}
	if !validLogFormats[c.Settings.LogFormat] {
		return fmt.Errorf("invalid log format %q: must be json or text", c.Settings.LogFormat)
	}
	if !validLogOutputs[c.Settings.LogOutput] {
		return fmt.Errorf("invalid log output %q: must be stdout, stderr, or file", c.Settings.LogOutput)
	}
	if c.Settings.LogOutput == "file" && c.Settings.LogFile == "" {
		return fmt.Errorf("logFile must be specified when logOutput is 'file'")
	}

	pollInterval, err := c.Monitoring.StatusPollIntervalDuration()
	if err != nil {
		return fmt.Errorf("invalid statusPollInterval: %w", err)
	}
	if pollInterval < MinPollInterval {
		return fmt.Errorf("statusPollInterval %v below minimum %v", pollInterval, MinPollInterval)
	}

	cacheTTL, err := c.Monitoring.StatusCacheTTLDuration()
	if err != nil {
		return fmt.Errorf("invalid statusCacheTTL: %w", err)
	}
	if cacheTTL < pollInterval {
		return fmt.Errorf("statusCacheTTL %v must be at least statusPollInterval %v", cacheTTL, pollInterval)
	}

	if _, err := c.Monitoring.VersionPollIntervalDuration(); err != nil {
		return fmt.Errorf("invalid versionPollInterval: %w", err)
	}

	queryTimeout, err := c.Monitoring.QueryTimeoutDuration()
	if err != nil {
		return fmt.Errorf("invalid queryTimeout: %w", err)
	}
	if queryTimeout < MinQueryTimeout {
		return fmt.Errorf("queryTimeout %v below minimum %v", queryTimeout, MinQueryTimeout)
	}

	if _, err := c.Monitoring.CommandTimeoutDuration(); err != nil {
		return fmt.Errorf("invalid commandTimeout: %w", err)
	}

	window, err := c.Monitoring.RestartWindowDuration()
	if err != nil {
		return fmt.Errorf("invalid restartWindow: %w", err)
	}
	if window < MinRestartWindow {
		return fmt.Errorf("restartWindow %v below minimum %v", window, MinRestartWindow)
	}
	if c.Monitoring.RestartMaxAttempts < 1 {
		return fmt.Errorf("restartMaxAttempts must be at least 1, got %d", c.Monitoring.RestartMaxAttempts)
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("invalid health port %d", c.Health.Port)
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, server := range c.Servers {
		if server.ID == "" {
			return fmt.Errorf("servers[%d]: id is required", i)
		}
		if seen[server.ID] {
			return fmt.Errorf("servers[%d]: duplicate id %q", i, server.ID)
		}
		seen[server.ID] = true
		if server.Mode != "" && !server.Mode.Valid() {
			return fmt.Errorf("servers[%d]: invalid mode %q", i, server.Mode)
		}
	}

	return nil
}

// StatusPollIntervalDuration parses the status poller interval.
func (m *MonitoringConfig) StatusPollIntervalDuration() (time.Duration, error) {
	return time.ParseDuration(m.StatusPollInterval)
}

// StatusCacheTTLDuration parses the status cache TTL.
func (m *MonitoringConfig) StatusCacheTTLDuration() (time.Duration, error) {
	return time.ParseDuration(m.StatusCacheTTL)
}

// VersionPollIntervalDuration parses the version poller interval.
func (m *MonitoringConfig) VersionPollIntervalDuration() (time.Duration, error) {
	return time.ParseDuration(m.VersionPollInterval)
}

// QueryTimeoutDuration parses the A2S query timeout.
func (m *MonitoringConfig) QueryTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(m.QueryTimeout)
}

// CommandTimeoutDuration parses the remote command timeout.
func (m *MonitoringConfig) CommandTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(m.CommandTimeout)
}

// RestartWindowDuration parses the restart rate limit window.
func (m *MonitoringConfig) RestartWindowDuration() (time.Duration, error) {
	return time.ParseDuration(m.RestartWindow)
}
