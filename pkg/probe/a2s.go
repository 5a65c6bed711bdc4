package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/supporttools/gameserver-doctor/pkg/types"
)

// A2SProbe checks liveness by issuing short-timeout A2S info queries against
// the server's query endpoint. A single failed query is tolerated: the probe
// keeps a per-server consecutive-failure counter and only declares the server
// down once the counter reaches the server's configured threshold. A
// successful query resets the counter.
//
// Counters are in-memory only and reset on process restart.
type A2SProbe struct {
	querier types.GameQuerier
	timeout time.Duration

	mu       sync.Mutex
	failures map[string]int // server ID -> consecutive failures
}

// NewA2SProbe creates an A2SProbe using the given querier. timeout bounds
// each individual query.
func NewA2SProbe(querier types.GameQuerier, timeout time.Duration) *A2SProbe {
	return &A2SProbe{
		querier:  querier,
		timeout:  timeout,
		failures: make(map[string]int),
	}
}

// Category implements HealthProbe.
func (p *A2SProbe) Category() types.EventCategory {
	return types.CategoryA2SCheck
}

// Probe implements HealthProbe.
func (p *A2SProbe) Probe(ctx context.Context, server *types.GameServer) (v Verdict) {
	defer recoverVerdict(&v)

	info, err := p.querier.QueryInfo(ctx, server.Host, server.QueryPort, p.timeout)
	if err != nil {
		count := p.recordFailure(server.ID)
		threshold := server.Threshold()

		if count >= threshold {
			return Verdict{
				Down:     true,
				Severity: types.SeverityFailed,
				Message: fmt.Sprintf("server down: %d consecutive query failures (threshold %d), last error: %v",
					count, threshold, err),
			}
		}
		return Verdict{
			Down:     false,
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("query failed (%d/%d): %v", count, threshold, err),
		}
	}

	p.ResetFailures(server.ID)
	return Verdict{
		Down:     false,
		Severity: types.SeveritySuccess,
		Message: fmt.Sprintf("server responding: %q, %d/%d players on %s",
			info.Name, info.Players, info.MaxPlayers, info.Map),
	}
}

// Failures returns the current consecutive-failure count for the server.
func (p *A2SProbe) Failures(serverID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures[serverID]
}

// ResetFailures clears the consecutive-failure counter for the server.
// Called internally on probe success and externally after confirmed manual
// recovery.
func (p *A2SProbe) ResetFailures(serverID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failures, serverID)
}

// Forget implements HealthProbe by dropping the failure counter.
func (p *A2SProbe) Forget(serverID string) {
	p.ResetFailures(serverID)
}

// recordFailure increments and returns the consecutive-failure count.
func (p *A2SProbe) recordFailure(serverID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[serverID]++
	return p.failures[serverID]
}
