package ratelimit

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(window time.Duration, max int) (*Limiter, *fakeClock) {
	l := NewLimiter(window, max)
	clock := newFakeClock()
	l.now = clock.Now
	return l, clock
}

func TestNewLimiterDefaults(t *testing.T) {
	l := NewLimiter(0, 0)
	info := l.Info("srv-1")
	assert.Equal(t, DefaultWindow, info.Window)
	assert.Equal(t, DefaultMaxAttempts, info.Max)
	assert.True(t, info.Allowed)
	assert.Zero(t, info.Count)
}

func TestCanAttemptDeniedAfterMaxAttempts(t *testing.T) {
	l, clock := newTestLimiter(10*time.Minute, 5)

	for i := 0; i < 5; i++ {
		allowed, _ := l.CanAttempt("srv-1")
		require.True(t, allowed, "attempt %d should be allowed", i+1)
		l.RecordAttempt("srv-1")
		clock.Advance(30 * time.Second)
	}

	allowed, reason := l.CanAttempt("srv-1")
	assert.False(t, allowed)
	assert.Contains(t, reason, "5 attempts")
	assert.Contains(t, reason, "10m0s")
	assert.Contains(t, reason, "retry in")
}

func TestCanAttemptAllowedAfterOldestAgesOut(t *testing.T) {
	l, clock := newTestLimiter(10*time.Minute, 5)

	for i := 0; i < 5; i++ {
		l.RecordAttempt("srv-1")
		clock.Advance(time.Minute)
	}
	// 4m elapsed since the last attempt, oldest is now 9m old.
	allowed, _ := l.CanAttempt("srv-1")
	require.False(t, allowed)

	// Push the oldest attempt past the window.
	clock.Advance(6 * time.Minute)

	allowed, reason := l.CanAttempt("srv-1")
	assert.True(t, allowed)
	assert.Empty(t, reason)
}

func TestDenialReasonRetryEstimate(t *testing.T) {
	l, clock := newTestLimiter(10*time.Minute, 2)

	l.RecordAttempt("srv-1")
	l.RecordAttempt("srv-1")
	clock.Advance(7*time.Minute + 30*time.Second)

	// Oldest attempt leaves the window in 2m30s, rounded up to 3 minutes.
	allowed, reason := l.CanAttempt("srv-1")
	require.False(t, allowed)
	assert.Contains(t, reason, "~3 minute(s)")
}

func TestResetClearsHistory(t *testing.T) {
	l, _ := newTestLimiter(10*time.Minute, 2)

	l.RecordAttempt("srv-1")
	l.RecordAttempt("srv-1")
	allowed, _ := l.CanAttempt("srv-1")
	require.False(t, allowed)

	l.Reset("srv-1")

	allowed, _ = l.CanAttempt("srv-1")
	assert.True(t, allowed)
	assert.Zero(t, l.Info("srv-1").Count)
}

func TestServersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(10*time.Minute, 1)

	l.RecordAttempt("srv-1")

	allowed, _ := l.CanAttempt("srv-1")
	assert.False(t, allowed)
	allowed, _ = l.CanAttempt("srv-2")
	assert.True(t, allowed)
}

func TestInfoReportsPrunedState(t *testing.T) {
	l, clock := newTestLimiter(10*time.Minute, 5)

	l.RecordAttempt("srv-1")
	clock.Advance(11 * time.Minute)
	l.RecordAttempt("srv-1")
	l.RecordAttempt("srv-1")

	info := l.Info("srv-1")
	assert.Equal(t, 2, info.Count, "aged-out attempt should be pruned")
	assert.True(t, info.Allowed)
	assert.Len(t, info.RecentAttempts, 2)
	if !strings.HasPrefix(info.Window.String(), "10m") {
		t.Errorf("unexpected window: %v", info.Window)
	}
}

func TestRecordWithoutCheckIsLegal(t *testing.T) {
	l, _ := newTestLimiter(10*time.Minute, 2)

	// Recording past the limit is permitted; only future decisions change.
	for i := 0; i < 4; i++ {
		l.RecordAttempt("srv-1")
	}

	info := l.Info("srv-1")
	assert.Equal(t, 4, info.Count)
	assert.False(t, info.Allowed)
}
