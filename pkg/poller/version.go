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

// versionKey holds the cached slow-changing external version value.
const versionKey = "gameserver:version:latest"

// VersionKey returns the cache key holding the latest version value.
func VersionKey() string {
	return versionKey
}

// VersionRecord is the cached version value.
type VersionRecord struct {
	Version   string    `json:"version"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// VersionPoller periodically refreshes one slow-changing external version
// value. It is fully independent of the status poller and the monitor loops,
// with its own start/stop lifecycle.
type VersionPoller struct {
	source   types.VersionSource
	cache    *cache.Store
	interval time.Duration
	metrics  *metrics.Metrics

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewVersionPoller creates a VersionPoller. The cache TTL matches the poll
// interval.
func NewVersionPoller(source types.VersionSource, cacheStore *cache.Store, interval time.Duration, m *metrics.Metrics) (*VersionPoller, error) {
	if source == nil || cacheStore == nil {
		return nil, fmt.Errorf("version poller requires source and cache")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", interval)
	}
	return &VersionPoller{
		source:   source,
		cache:    cacheStore,
		interval: interval,
		metrics:  m,
	}, nil
}

// Start begins polling. The first fetch runs immediately.
// Returns an error if the poller is already running.
func (p *VersionPoller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("version poller is already running")
	}
	p.running = true
	p.stopChan = make(chan struct{})

	p.wg.Add(1)
	go p.run(p.stopChan)

	p.log().Infof("Version poller started, interval %v", p.interval)
	return nil
}

// Stop stops polling and waits for the in-flight fetch to finish.
// Safe to call when not running.
func (p *VersionPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	p.log().Infof("Version poller stopped")
}

func (p *VersionPoller) run(stopChan chan struct{}) {
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

// pollOnce fetches and caches the version value. A failed fetch leaves the
// previous cached value in place until it expires.
func (p *VersionPoller) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	version, err := p.source.FetchLatest(ctx)
	if err != nil {
		p.log().WithError(err).Warnf("Failed to fetch latest version")
		p.metrics.ObservePollerCycle("version", true)
		return
	}

	record := VersionRecord{
		Version:   version,
		FetchedAt: time.Now(),
	}
	if err := p.cache.Set(ctx, versionKey, record, p.interval); err != nil {
		p.log().WithError(err).Warnf("Failed to cache version value")
		p.metrics.ObservePollerCycle("version", true)
		return
	}
	p.metrics.ObservePollerCycle("version", false)
}

func (p *VersionPoller) log() *logrus.Entry {
	return logger.WithField("component", "version-poller")
}
