// Package supervisor owns the per-server monitor loops. Each actively
// monitored server gets one goroutine that periodically probes its health,
// applies rate-limited automatic remediation when it is down, and records
// the outcome in the event log and the persistence store.
//
// Loops are isolated: a failure inside one server's tick never terminates
// that loop or any other loop. Only explicit Stop, server deletion or
// monitoring being disabled ends a loop.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/gameserver-doctor/pkg/logger"
	"github.com/supporttools/gameserver-doctor/pkg/metrics"
	"github.com/supporttools/gameserver-doctor/pkg/probe"
	"github.com/supporttools/gameserver-doctor/pkg/ratelimit"
	"github.com/supporttools/gameserver-doctor/pkg/types"
)

// persistTimeout bounds final event/status writes after a loop's own context
// has been cancelled.
const persistTimeout = 5 * time.Second

// EventSink receives event log entries from the supervisor.
// *eventlog.Log satisfies this interface.
type EventSink interface {
	Append(ctx context.Context, serverID string, category types.EventCategory, severity types.Severity, message string) error
}

// ProbeSet holds the probe strategy instances shared by all loops.
type ProbeSet struct {
	A2S     probe.HealthProbe
	Process probe.HealthProbe
}

// forMode returns the probe matching the mode, or nil.
func (p ProbeSet) forMode(mode types.MonitorMode) probe.HealthProbe {
	switch mode {
	case types.MonitorModeA2S:
		return p.A2S
	case types.MonitorModeProcess:
		return p.Process
	}
	return nil
}

// Config contains the collaborators a Supervisor needs.
type Config struct {
	// Store is the persistence collaborator owning server records.
	Store types.ServerStore

	// Events receives event log entries.
	Events EventSink

	// Limiter rate-limits automatic restarts.
	Limiter *ratelimit.Limiter

	// Restarter performs the actual restart remediation.
	Restarter types.Restarter

	// Probes are the health probe strategies.
	Probes ProbeSet

	// Metrics is optional; nil disables metric recording.
	Metrics *metrics.Metrics

	// DryRun logs restarts instead of executing them.
	DryRun bool
}

// loopHandle tracks one running monitor loop.
type loopHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor manages the monitor loops. All methods are safe for concurrent
// use. At most one loop exists per server ID at any time.
type Supervisor struct {
	cfg Config

	mu    sync.Mutex
	loops map[string]*loopHandle
	wg    sync.WaitGroup
}

// New creates a Supervisor. Store, Events, Limiter and Restarter are required.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("supervisor requires a server store")
	}
	if cfg.Events == nil {
		return nil, fmt.Errorf("supervisor requires an event sink")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("supervisor requires a rate limiter")
	}
	if cfg.Restarter == nil {
		return nil, fmt.Errorf("supervisor requires a restarter")
	}
	return &Supervisor{
		cfg:   cfg,
		loops: make(map[string]*loopHandle),
	}, nil
}

// Start launches a monitor loop for the server. Starting a server that
// already has an active loop is an idempotent no-op, logged as a warning.
func (s *Supervisor) Start(serverID string) {
	s.mu.Lock()
	if _, exists := s.loops[serverID]; exists {
		s.mu.Unlock()
		s.log(serverID).Warnf("Monitor loop already active, ignoring start")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := &loopHandle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.loops[serverID] = handle
	s.wg.Add(1)
	s.mu.Unlock()

	s.log(serverID).Infof("Starting monitor loop")
	s.cfg.Metrics.LoopStarted()

	go s.run(ctx, serverID, handle)
}

// Stop cancels the server's monitor loop. The cancellation is issued before
// Stop returns; loop cleanup completes asynchronously. Stopping a server
// without an active loop is a no-op.
func (s *Supervisor) Stop(serverID string) {
	s.mu.Lock()
	handle, exists := s.loops[serverID]
	if exists {
		delete(s.loops, serverID)
	}
	s.mu.Unlock()

	if !exists {
		s.log(serverID).Debugf("No active monitor loop to stop")
		return
	}

	s.log(serverID).Infof("Stopping monitor loop")
	handle.cancel()
}

// StopAll cancels every loop and waits up to timeout for them to finish.
// Returns an error if the wait timed out.
func (s *Supervisor) StopAll(timeout time.Duration) error {
	s.mu.Lock()
	for id, handle := range s.loops {
		handle.cancel()
		delete(s.loops, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %v waiting for monitor loops to stop", timeout)
	}
}

// IsActive reports whether the server currently has a monitor loop.
func (s *Supervisor) IsActive(serverID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.loops[serverID]
	return exists
}

// ActiveCount returns the number of running monitor loops.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}

// ManualRestart performs an operator-initiated restart of a server. It goes
// through the same rate limiter as automatic remediation and records the
// outcome under the manual_restart category. It returns the restarter's
// outcome message.
func (s *Supervisor) ManualRestart(ctx context.Context, serverID string) (string, error) {
	server, err := s.cfg.Store.GetServer(ctx, serverID)
	if err != nil {
		return "", err
	}

	allowed, reason := s.cfg.Limiter.CanAttempt(serverID)
	if !allowed {
		s.appendEvent(ctx, serverID, types.CategoryManualRestart, types.SeverityWarning, reason)
		s.cfg.Metrics.ObserveRestartDenied()
		return "", fmt.Errorf("%s", reason)
	}
	s.cfg.Limiter.RecordAttempt(serverID)

	if s.cfg.DryRun {
		s.appendEvent(ctx, serverID, types.CategoryManualRestart, types.SeverityInfo,
			"dry-run mode enabled, restart skipped")
		return "dry-run mode enabled, restart skipped", nil
	}

	s.log(serverID).Infof("Manual restart requested")
	message, err := s.cfg.Restarter.Restart(ctx, server)
	if err != nil {
		s.cfg.Metrics.ObserveRestart(false)
		s.appendEvent(ctx, serverID, types.CategoryManualRestart, types.SeverityFailed,
			fmt.Sprintf("manual restart failed: %v", err))
		return "", err
	}

	s.cfg.Metrics.ObserveRestart(true)
	s.appendEvent(ctx, serverID, types.CategoryManualRestart, types.SeveritySuccess, message)
	s.updateStatus(ctx, serverID, types.StatusRunning)
	return message, nil
}

// run is the monitor loop body. It executes ticks strictly sequentially and
// sleeps for the server's configured interval between them.
func (s *Supervisor) run(ctx context.Context, serverID string, handle *loopHandle) {
	defer func() {
		s.removeHandle(serverID, handle)
		s.cfg.Metrics.LoopStopped()
		close(handle.done)
		s.wg.Done()
	}()

	s.appendEvent(ctx, serverID, types.CategoryMonitoringStart, types.SeverityInfo, "monitoring started")

	for {
		delay, stop := s.safeTick(ctx, serverID)
		if stop {
			return
		}

		select {
		case <-ctx.Done():
			s.appendFinalStop(serverID, "monitoring stopped")
			return
		case <-time.After(delay):
		}
	}
}

// safeTick runs one tick with panic recovery. A panicking tick is treated as
// a failed tick: the loop continues at the default interval.
func (s *Supervisor) safeTick(ctx context.Context, serverID string) (delay time.Duration, stop bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log(serverID).Errorf("Tick panicked: %v", r)
			delay, stop = types.DefaultCheckInterval, false
		}
	}()
	return s.tick(ctx, serverID)
}

// tick performs one monitoring pass for the server:
// reload config, probe, remediate if down and allowed, persist the outcome.
func (s *Supervisor) tick(ctx context.Context, serverID string) (time.Duration, bool) {
	if err := ctx.Err(); err != nil {
		s.appendFinalStop(serverID, "monitoring stopped")
		return 0, true
	}

	server, err := s.cfg.Store.GetServer(ctx, serverID)
	if err != nil {
		if errors.Is(err, types.ErrServerNotFound) {
			s.log(serverID).Infof("Server no longer exists, stopping monitor loop")
			s.appendFinalStop(serverID, "server deleted, monitoring stopped")
			s.forgetServer(serverID)
			return 0, true
		}
		// Persistence failure: the tick failed but the loop lives on.
		s.log(serverID).WithError(err).Errorf("Failed to reload server, skipping tick")
		return types.DefaultCheckInterval, false
	}

	if !server.MonitoringEnabled() {
		s.log(serverID).Infof("Monitoring disabled, stopping monitor loop")
		s.appendFinalStop(serverID, "monitoring disabled")
		s.forgetServer(serverID)
		return 0, true
	}

	healthProbe := s.cfg.Probes.forMode(server.Mode)
	if healthProbe == nil {
		s.log(serverID).Errorf("No probe available for mode %q, skipping tick", server.Mode)
		return server.Interval(), false
	}

	started := time.Now()
	verdict := healthProbe.Probe(ctx, server)
	s.cfg.Metrics.ObserveCheck(serverID, string(server.Mode), verdict.Down, time.Since(started))

	s.appendEvent(ctx, serverID, healthProbe.Category(), verdict.Severity, verdict.Message)

	switch {
	case verdict.Down && server.AutoRestart:
		s.remediate(ctx, server)
	case verdict.Down:
		s.updateStatus(ctx, serverID, types.StatusStopped)
	default:
		// Healthy: avoid redundant writes.
		if server.Status != types.StatusRunning {
			s.updateStatus(ctx, serverID, types.StatusRunning)
		}
	}

	if err := s.cfg.Store.TouchLastCheck(ctx, serverID, time.Now()); err != nil {
		s.log(serverID).WithError(err).Warnf("Failed to record last check time")
	}

	return server.Interval(), false
}

// remediate applies rate-limited restart remediation for a server that the
// probe reported down.
func (s *Supervisor) remediate(ctx context.Context, server *types.GameServer) {
	allowed, reason := s.cfg.Limiter.CanAttempt(server.ID)
	if !allowed {
		s.log(server.ID).Warnf("Restart denied: %s", reason)
		s.cfg.Metrics.ObserveRestartDenied()
		s.appendEvent(ctx, server.ID, types.CategoryAutoRestart, types.SeverityWarning, reason)
		s.updateStatus(ctx, server.ID, types.StatusError)
		return
	}

	s.cfg.Limiter.RecordAttempt(server.ID)

	if s.cfg.DryRun {
		s.log(server.ID).Infof("Dry-run mode, skipping restart")
		s.appendEvent(ctx, server.ID, types.CategoryAutoRestart, types.SeverityInfo,
			"dry-run mode enabled, restart skipped")
		s.updateStatus(ctx, server.ID, types.StatusError)
		return
	}

	s.log(server.ID).Infof("Server down, attempting automatic restart")
	message, err := s.cfg.Restarter.Restart(ctx, server)
	if err != nil {
		s.log(server.ID).WithError(err).Errorf("Automatic restart failed")
		s.cfg.Metrics.ObserveRestart(false)
		s.appendEvent(ctx, server.ID, types.CategoryAutoRestart, types.SeverityFailed,
			fmt.Sprintf("automatic restart failed: %v", err))
		s.updateStatus(ctx, server.ID, types.StatusError)
		return
	}

	s.log(server.ID).Infof("Automatic restart succeeded: %s", message)
	s.cfg.Metrics.ObserveRestart(true)
	s.appendEvent(ctx, server.ID, types.CategoryAutoRestart, types.SeveritySuccess, message)
	s.updateStatus(ctx, server.ID, types.StatusRunning)
}

// updateStatus persists a status change. Failures are logged and the tick
// continues; the next tick will retry.
func (s *Supervisor) updateStatus(ctx context.Context, serverID string, status types.ServerStatus) {
	if err := s.cfg.Store.UpdateStatus(ctx, serverID, status); err != nil {
		s.log(serverID).WithError(err).Errorf("Failed to persist status %q", status)
	}
}

// appendEvent writes an event log entry. Failures are logged, never fatal.
func (s *Supervisor) appendEvent(ctx context.Context, serverID string, category types.EventCategory, severity types.Severity, message string) {
	if err := s.cfg.Events.Append(ctx, serverID, category, severity, message); err != nil {
		s.log(serverID).WithError(err).Warnf("Failed to append %s event", category)
	}
}

// forgetServer drops the per-server state held outside the loop: the
// restart rate-limit history and any probe failure counters. Called when a
// loop terminates because its server was deleted or disabled, so fleet churn
// never accumulates state for servers that are gone.
func (s *Supervisor) forgetServer(serverID string) {
	s.cfg.Limiter.Reset(serverID)
	if s.cfg.Probes.A2S != nil {
		s.cfg.Probes.A2S.Forget(serverID)
	}
	if s.cfg.Probes.Process != nil {
		s.cfg.Probes.Process.Forget(serverID)
	}
}

// appendFinalStop records the monitoring_stop event with a fresh context, so
// the write succeeds even when the loop's own context is already cancelled.
func (s *Supervisor) appendFinalStop(serverID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	s.appendEvent(ctx, serverID, types.CategoryMonitoringStop, types.SeverityInfo, message)
}

// removeHandle deletes the loop's handle if it is still the registered one.
// A handle replaced by Stop+Start must not remove its successor.
func (s *Supervisor) removeHandle(serverID string, handle *loopHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, exists := s.loops[serverID]; exists && current == handle {
		delete(s.loops, serverID)
	}
}

// log returns a logger entry scoped to the supervisor and one server.
func (s *Supervisor) log(serverID string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component": "supervisor",
		"server":    serverID,
	})
}
