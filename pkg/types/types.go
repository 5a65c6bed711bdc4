// Package types defines the core types and collaborator interfaces for
// GameServer Doctor.
package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MonitorMode selects the health probe strategy for a server.
type MonitorMode string

const (
	// MonitorModeA2S probes the server's query endpoint using the A2S protocol.
	MonitorModeA2S MonitorMode = "a2s"

	// MonitorModeProcess inspects the remote server process via command execution.
	MonitorModeProcess MonitorMode = "process"

	// MonitorModeDisabled turns off monitoring for the server.
	MonitorModeDisabled MonitorMode = "disabled"
)

// Valid returns true if the mode is one of the recognized monitor modes.
func (m MonitorMode) Valid() bool {
	switch m {
	case MonitorModeA2S, MonitorModeProcess, MonitorModeDisabled:
		return true
	}
	return false
}

// ServerStatus is the persisted status of a game server.
type ServerStatus string

const (
	// StatusRunning indicates the server is up and responding.
	StatusRunning ServerStatus = "running"

	// StatusStopped indicates the server is down and no remediation is configured.
	StatusStopped ServerStatus = "stopped"

	// StatusError indicates the server is down and remediation failed or was denied.
	StatusError ServerStatus = "error"
)

// Severity classifies event log entries.
type Severity string

const (
	// SeverityInfo is used for routine lifecycle events.
	SeverityInfo Severity = "info"

	// SeveritySuccess is used for successful checks and restarts.
	SeveritySuccess Severity = "success"

	// SeverityWarning is used for tolerated failures and rate-limit denials.
	SeverityWarning Severity = "warning"

	// SeverityFailed is used for confirmed-down verdicts and failed restarts.
	SeverityFailed Severity = "failed"
)

// EventCategory identifies a per-server event log buffer.
// The set of categories is closed; Read operations merge across all of them.
type EventCategory string

const (
	// CategoryStatusCheck records process probe verdicts.
	CategoryStatusCheck EventCategory = "status_check"

	// CategoryA2SCheck records A2S probe verdicts.
	CategoryA2SCheck EventCategory = "a2s_check"

	// CategoryAutoRestart records automatic remediation outcomes and denials.
	CategoryAutoRestart EventCategory = "auto_restart"

	// CategoryManualRestart records operator-initiated restarts.
	CategoryManualRestart EventCategory = "manual_restart"

	// CategoryMonitoringStart records monitor loop startups.
	CategoryMonitoringStart EventCategory = "monitoring_start"

	// CategoryMonitoringStop records monitor loop shutdowns.
	CategoryMonitoringStop EventCategory = "monitoring_stop"
)

// KnownCategories returns all recognized event categories.
// The returned slice is a copy and can be safely modified by the caller.
func KnownCategories() []EventCategory {
	return []EventCategory{
		CategoryStatusCheck,
		CategoryA2SCheck,
		CategoryAutoRestart,
		CategoryManualRestart,
		CategoryMonitoringStart,
		CategoryMonitoringStop,
	}
}

// Valid returns true if the category is one of the recognized categories.
func (c EventCategory) Valid() bool {
	for _, known := range KnownCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// GameServer describes one monitored game server instance.
// The record is owned by the persistence collaborator; the supervisor reloads
// it at the start of every tick so external edits take effect promptly.
type GameServer struct {
	// ID uniquely identifies the server across the fleet.
	ID string `json:"id" yaml:"id"`

	// Name is the operator-facing display name.
	Name string `json:"name" yaml:"name"`

	// Host is the address game clients and the A2S probe connect to.
	Host string `json:"host" yaml:"host"`

	// QueryPort is the UDP port answering A2S queries.
	QueryPort int `json:"queryPort" yaml:"queryPort"`

	// SSHAddress is the host:port of the machine running the server process.
	SSHAddress string `json:"sshAddress" yaml:"sshAddress"`

	// SSHUser is the login user for remote command execution.
	SSHUser string `json:"sshUser" yaml:"sshUser"`

	// SSHPassword authenticates SSHUser. Ignored when SSHKeyFile is set.
	SSHPassword string `json:"-" yaml:"sshPassword,omitempty"`

	// SSHKeyFile is a path to a private key used instead of a password.
	SSHKeyFile string `json:"-" yaml:"sshKeyFile,omitempty"`

	// Mode selects the health probe strategy.
	Mode MonitorMode `json:"mode" yaml:"mode"`

	// CheckIntervalSeconds is the delay between health checks. Zero means the
	// default of 60 seconds.
	CheckIntervalSeconds int `json:"checkIntervalSeconds" yaml:"checkIntervalSeconds"`

	// FailureThreshold is the number of consecutive A2S failures required
	// before the server is declared down. Zero means the default of 3.
	// Only meaningful in a2s mode; the process probe is immediate.
	FailureThreshold int `json:"failureThreshold" yaml:"failureThreshold"`

	// AutoRestart enables rate-limited automatic remediation.
	AutoRestart bool `json:"autoRestart" yaml:"autoRestart"`

	// ProcessPattern is the pgrep -f pattern identifying the server process.
	ProcessPattern string `json:"processPattern,omitempty" yaml:"processPattern,omitempty"`

	// RestartCommand is the remote command that restarts the server process.
	RestartCommand string `json:"restartCommand,omitempty" yaml:"restartCommand,omitempty"`

	// Status is the last persisted health status.
	Status ServerStatus `json:"status" yaml:"status"`

	// LastCheck is when the supervisor last completed a tick for this server.
	LastCheck time.Time `json:"lastCheck" yaml:"lastCheck"`
}

// DefaultCheckInterval is used when a server does not configure its own.
const DefaultCheckInterval = 60 * time.Second

// DefaultFailureThreshold is used when a server does not configure its own.
const DefaultFailureThreshold = 3

// Interval returns the effective check interval for the server.
func (s *GameServer) Interval() time.Duration {
	if s.CheckIntervalSeconds <= 0 {
		return DefaultCheckInterval
	}
	return time.Duration(s.CheckIntervalSeconds) * time.Second
}

// Threshold returns the effective consecutive-failure threshold for the server.
func (s *GameServer) Threshold() int {
	if s.FailureThreshold <= 0 {
		return DefaultFailureThreshold
	}
	return s.FailureThreshold
}

// QueryAddr returns the host:port string for A2S queries.
func (s *GameServer) QueryAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.QueryPort)
}

// MonitoringEnabled returns true if the server should have an active monitor loop.
func (s *GameServer) MonitoringEnabled() bool {
	return s.Mode == MonitorModeA2S || s.Mode == MonitorModeProcess
}

// ErrServerNotFound is returned by ServerStore lookups for unknown server IDs.
var ErrServerNotFound = errors.New("server not found")

// ServerStore is the persistence collaborator owning GameServer records.
type ServerStore interface {
	// GetServer returns the server with the given ID, or ErrServerNotFound.
	GetServer(ctx context.Context, id string) (*GameServer, error)

	// ListServers returns all known servers.
	ListServers(ctx context.Context) ([]GameServer, error)

	// UpdateStatus persists a new status for the server.
	UpdateStatus(ctx context.Context, id string, status ServerStatus) error

	// TouchLastCheck records when the server was last checked.
	TouchLastCheck(ctx context.Context, id string, t time.Time) error
}

// CommandResult is the outcome of one remote command execution.
type CommandResult struct {
	// ExitOK is true when the command exited with status zero.
	ExitOK bool

	// Stdout is the captured standard output.
	Stdout string

	// Stderr is the captured standard error.
	Stderr string
}

// CommandExecutor is the remote command execution primitive.
// Implementations must tolerate repeated Connect/Disconnect cycles, and
// callers must always Disconnect, including on error paths.
type CommandExecutor interface {
	// Connect establishes a session to the server's host.
	Connect(ctx context.Context, server *GameServer) error

	// Run executes a command within the connected session.
	Run(ctx context.Context, command string, timeout time.Duration) (CommandResult, error)

	// Disconnect tears down the session. Safe to call when not connected.
	Disconnect() error
}

// ExecutorFactory creates a CommandExecutor for one connect/run/disconnect
// session. Callers obtain a fresh executor per invocation so concurrent
// monitor loops never share a connection.
type ExecutorFactory func() CommandExecutor

// ServerInfo is the structured result of an A2S info query.
type ServerInfo struct {
	Name       string `json:"name"`
	Map        string `json:"map"`
	Game       string `json:"game"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
}

// Player is one entry from an A2S player query.
type Player struct {
	Name     string        `json:"name"`
	Score    int           `json:"score"`
	Duration time.Duration `json:"duration"`
}

// GameQuerier is the protocol query primitive.
type GameQuerier interface {
	// QueryInfo issues an A2S_INFO query against host:port.
	QueryInfo(ctx context.Context, host string, port int, timeout time.Duration) (*ServerInfo, error)

	// QueryPlayers issues an A2S_PLAYER query against host:port.
	QueryPlayers(ctx context.Context, host string, port int, timeout time.Duration) ([]Player, error)
}

// Restarter is the remediation primitive invoked when a server is down and
// policy allows a restart. It returns a human-readable outcome message.
type Restarter interface {
	Restart(ctx context.Context, server *GameServer) (string, error)
}

// VersionSource provides the slow-changing external version value refreshed
// by the version poller.
type VersionSource interface {
	FetchLatest(ctx context.Context) (string, error)
}
