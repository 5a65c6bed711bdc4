// Package poller implements the background cache pollers. They run
// independently of the per-server monitor loops: the status poller refreshes
// A2S status snapshots for the whole fleet on a short interval, and the
// version poller refreshes one slow-changing external value on a long one.
// Both perform an eager run on Start so first-time readers never wait a full
// interval for initial data.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/gameserver-doctor/pkg/cache"
	"github.com/supporttools/gameserver-doctor/pkg/logger"
	"github.com/supporttools/gameserver-doctor/pkg/metrics"
	"github.com/supporttools/gameserver-doctor/pkg/types"
)

// statusKeyPrefix namespaces status snapshot cache keys.
const statusKeyPrefix = "gameserver:status:"

// StatusKey returns the cache key holding a server's status snapshot.
func StatusKey(serverID string) string {
	return statusKeyPrefix + serverID
}

// StatusKeyPattern matches all status snapshot keys.
func StatusKeyPattern() string {
	return statusKeyPrefix + "*"
}

// StatusSnapshot is one cached A2S status record. A failed query is cached as
// an explicit failure record rather than a missing key, so readers can tell
// "down" from "not yet polled".
type StatusSnapshot struct {
	ServerID  string            `json:"serverId"`
	Online    bool              `json:"online"`
	Error     string            `json:"error,omitempty"`
	Info      *types.ServerInfo `json:"info,omitempty"`
	Players   []types.Player    `json:"players,omitempty"`
	CheckedAt time.Time         `json:"checkedAt"`
}

// StatusPoller periodically snapshots the A2S status of every server into the
// cache store.
type StatusPoller struct {
	store    types.ServerStore
	querier  types.GameQuerier
	cache    *cache.Store
	interval time.Duration
	ttl      time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewStatusPoller creates a StatusPoller.
//
// Validation rules:
//   - store, querier and cacheStore must be non-nil
//   - interval and timeout must be positive
//   - ttl must be at least interval, so a missed cycle does not immediately
//     blank the cache
func NewStatusPoller(store types.ServerStore, querier types.GameQuerier, cacheStore *cache.Store, interval, ttl, timeout time.Duration, m *metrics.Metrics) (*StatusPoller, error) {
	if store == nil || querier == nil || cacheStore == nil {
		return nil, fmt.Errorf("status poller requires store, querier and cache")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", interval)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", timeout)
	}
	if ttl < interval {
		return nil, fmt.Errorf("ttl (%v) must be at least interval (%v)", ttl, interval)
	}
	return &StatusPoller{
		store:    store,
		querier:  querier,
		cache:    cacheStore,
		interval: interval,
		ttl:      ttl,
		timeout:  timeout,
		metrics:  m,
	}, nil
}

// Start begins polling. The first cycle runs immediately.
// Returns an error if the poller is already running.
func (p *StatusPoller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("status poller is already running")
	}
	p.running = true
	p.stopChan = make(chan struct{})

	p.wg.Add(1)
	go p.run(p.stopChan)

	p.log().Infof("Status poller started, interval %v, ttl %v", p.interval, p.ttl)
	return nil
}

// Stop stops polling and waits for the in-flight cycle to finish.
// Safe to call when not running.
func (p *StatusPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	p.log().Infof("Status poller stopped")
}

// run performs the eager first cycle and then polls on the interval.
func (p *StatusPoller) run(stopChan chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

// pollOnce snapshots every server. Servers are queried concurrently, each
// under its own deadline, so one slow server never starves the rest of the
// fleet of their records. One server's failure is cached as an explicit
// failure record and never aborts the batch.
func (p *StatusPoller) pollOnce() {
	listCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
	servers, err := p.store.ListServers(listCtx)
	cancel()
	if err != nil {
		p.log().WithError(err).Errorf("Failed to list servers, skipping cycle")
		p.metrics.ObservePollerCycle("status", true)
		return
	}

	var wg sync.WaitGroup
	for i := range servers {
		wg.Add(1)
		go func(server *types.GameServer) {
			defer wg.Done()
			p.snapshot(server)
		}(&servers[i])
	}
	wg.Wait()
	p.metrics.ObservePollerCycle("status", false)
}

// snapshot queries one server and caches the result. The query and the cache
// write get independent deadlines so a query timeout still leaves a failure
// record behind.
func (p *StatusPoller) snapshot(server *types.GameServer) {
	snap := StatusSnapshot{
		ServerID:  server.ID,
		CheckedAt: time.Now(),
	}

	queryCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
	info, err := p.querier.QueryInfo(queryCtx, server.Host, server.QueryPort, p.timeout)
	if err != nil {
		snap.Error = err.Error()
	} else {
		snap.Online = true
		snap.Info = info
		if players, err := p.querier.QueryPlayers(queryCtx, server.Host, server.QueryPort, p.timeout); err == nil {
			snap.Players = players
		}
	}
	cancel()

	cacheCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.cache.Set(cacheCtx, StatusKey(server.ID), snap, p.ttl); err != nil {
		p.log().WithError(err).Warnf("Failed to cache status for server %q", server.ID)
	}
}

func (p *StatusPoller) log() *logrus.Entry {
	return logger.WithField("component", "status-poller")
}
