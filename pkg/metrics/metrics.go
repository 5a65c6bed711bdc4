// Package metrics defines the Prometheus metrics exposed by GameServer Doctor.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace is the metric namespace used when none is configured.
const DefaultNamespace = "gameserver_doctor"

// Metrics contains all Prometheus metrics used by the daemon.
// All helper methods are nil-safe so components can run without metrics wired.
type Metrics struct {
	// Counter metrics
	ChecksTotal         *prometheus.CounterVec
	RestartsTotal       *prometheus.CounterVec
	RestartsDeniedTotal prometheus.Counter
	PollerCyclesTotal   *prometheus.CounterVec
	PollerErrorsTotal   *prometheus.CounterVec

	// Gauge metrics
	LoopsActive prometheus.Gauge

	// Histogram metrics
	CheckDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with all metric definitions.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	return &Metrics{
		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Total number of health checks performed, by server, probe mode and result",
			},
			[]string{"server", "mode", "result"},
		),

		RestartsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restarts_total",
				Help:      "Total number of automatic restart attempts, by result",
			},
			[]string{"result"},
		),

		RestartsDeniedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restarts_denied_total",
				Help:      "Total number of restarts denied by the rate limiter",
			},
		),

		PollerCyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poller_cycles_total",
				Help:      "Total number of background poller cycles, by poller",
			},
			[]string{"poller"},
		),

		PollerErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poller_errors_total",
				Help:      "Total number of background poller cycle errors, by poller",
			},
			[]string{"poller"},
		),

		LoopsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "monitor_loops_active",
				Help:      "Number of currently active monitor loops",
			},
		),

		CheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "check_duration_seconds",
				Help:      "Duration of health checks in seconds, by probe mode",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
	}
}

// MustRegister registers all metrics with the given registerer.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.ChecksTotal,
		m.RestartsTotal,
		m.RestartsDeniedTotal,
		m.PollerCyclesTotal,
		m.PollerErrorsTotal,
		m.LoopsActive,
		m.CheckDuration,
	)
}

// ObserveCheck records one completed health check.
func (m *Metrics) ObserveCheck(server, mode string, down bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "up"
	if down {
		result = "down"
	}
	m.ChecksTotal.WithLabelValues(server, mode, result).Inc()
	m.CheckDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ObserveRestart records one restart attempt outcome.
func (m *Metrics) ObserveRestart(success bool) {
	if m == nil {
		return
	}
	result := "failed"
	if success {
		result = "success"
	}
	m.RestartsTotal.WithLabelValues(result).Inc()
}

// ObserveRestartDenied records one rate-limiter denial.
func (m *Metrics) ObserveRestartDenied() {
	if m == nil {
		return
	}
	m.RestartsDeniedTotal.Inc()
}

// LoopStarted increments the active loop gauge.
func (m *Metrics) LoopStarted() {
	if m == nil {
		return
	}
	m.LoopsActive.Inc()
}

// LoopStopped decrements the active loop gauge.
func (m *Metrics) LoopStopped() {
	if m == nil {
		return
	}
	m.LoopsActive.Dec()
}

// ObservePollerCycle records one background poller cycle.
func (m *Metrics) ObservePollerCycle(poller string, failed bool) {
	if m == nil {
		return
	}
	m.PollerCyclesTotal.WithLabelValues(poller).Inc()
	if failed {
		m.PollerErrorsTotal.WithLabelValues(poller).Inc()
	}
}
