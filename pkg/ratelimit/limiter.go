// Package ratelimit implements sliding-window rate limiting for restart
// remediation. Each server has an in-memory history of restart attempt
// timestamps; attempts older than the window are pruned before every
// decision, and a restart is allowed only while the pruned count stays
// below the configured maximum.
//
// The history is process-local and lost on restart. Cross-restart
// durability is deliberately out of scope.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// DefaultWindow is the sliding window length used when none is configured.
const DefaultWindow = 10 * time.Minute

// DefaultMaxAttempts is the per-window attempt limit used when none is configured.
const DefaultMaxAttempts = 5

// Info describes the limiter state for one server, for operators and the
// status API.
type Info struct {
	// Count is the number of attempts remaining in the window after pruning.
	Count int `json:"count"`

	// Max is the attempt limit per window.
	Max int `json:"max"`

	// Window is the sliding window length.
	Window time.Duration `json:"window"`

	// Allowed reports whether another attempt would currently be permitted.
	Allowed bool `json:"allowed"`

	// RecentAttempts are the attempt timestamps still inside the window,
	// oldest first.
	RecentAttempts []time.Time `json:"recentAttempts"`
}

// Limiter tracks restart attempts per server in a sliding time window.
//
// Limiter does not itself gate recording: callers are expected to call
// CanAttempt before RecordAttempt. Recording without checking is legal and
// simply risks future denial.
type Limiter struct {
	window      time.Duration
	maxAttempts int

	mu       sync.Mutex
	attempts map[string][]time.Time // server ID -> attempt timestamps

	// now is overridable for tests
	now func() time.Time
}

// NewLimiter creates a Limiter with the given window and attempt limit.
// Non-positive values fall back to the package defaults.
func NewLimiter(window time.Duration, maxAttempts int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Limiter{
		window:      window,
		maxAttempts: maxAttempts,
		attempts:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

// CanAttempt reports whether another restart attempt is currently allowed for
// the server. When denied, reason states the attempt count, the window, and an
// estimate of when the next attempt will be allowed, rounded up to whole
// minutes.
func (l *Limiter) CanAttempt(serverID string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.pruneLocked(serverID)
	if len(recent) < l.maxAttempts {
		return true, ""
	}

	// The oldest remaining attempt leaves the window first.
	retryAfter := recent[0].Add(l.window).Sub(l.now())
	minutes := int(retryAfter / time.Minute)
	if retryAfter%time.Minute != 0 {
		minutes++
	}
	if minutes < 1 {
		minutes = 1
	}

	reason := fmt.Sprintf("restart limit reached: %d attempts in the last %v, retry in ~%d minute(s)",
		len(recent), l.window, minutes)
	return false, reason
}

// RecordAttempt appends a restart attempt timestamp for the server.
func (l *Limiter) RecordAttempt(serverID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.pruneLocked(serverID)
	l.attempts[serverID] = append(recent, l.now())
}

// Reset clears the full attempt history for the server. Used after confirmed
// manual intervention.
func (l *Limiter) Reset(serverID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.attempts, serverID)
}

// Info returns the current limiter state for the server.
func (l *Limiter) Info(serverID string) Info {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.pruneLocked(serverID)

	// Copy so callers cannot mutate limiter state.
	timestamps := make([]time.Time, len(recent))
	copy(timestamps, recent)

	return Info{
		Count:          len(recent),
		Max:            l.maxAttempts,
		Window:         l.window,
		Allowed:        len(recent) < l.maxAttempts,
		RecentAttempts: timestamps,
	}
}

// pruneLocked discards attempts older than the window and stores the result.
// Callers must hold l.mu.
func (l *Limiter) pruneLocked(serverID string) []time.Time {
	cutoff := l.now().Add(-l.window)

	history := l.attempts[serverID]
	pruned := history[:0]
	for _, t := range history {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) == 0 {
		delete(l.attempts, serverID)
		return nil
	}
	l.attempts[serverID] = pruned
	return pruned
}
