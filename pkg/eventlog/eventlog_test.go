package eventlog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/gameserver-doctor/pkg/types"
)

func newTestLog(t *testing.T) (*Log, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	l := NewLog(rdb)

	// Deterministic, strictly increasing clock so entry IDs never collide.
	var mu sync.Mutex
	current := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Millisecond)
		return current
	}

	return l, mr
}

func TestAppendAndRead(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "srv-1", types.CategoryA2SCheck, types.SeverityWarning, "query timeout (1/3)"))
	require.NoError(t, l.Append(ctx, "srv-1", types.CategoryA2SCheck, types.SeveritySuccess, "server responding"))

	entries, err := l.Read(ctx, "srv-1", types.CategoryA2SCheck, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "server responding", entries[0].Message)
	assert.Equal(t, types.SeveritySuccess, entries[0].Severity)
	assert.Equal(t, "query timeout (1/3)", entries[1].Message)
	assert.Equal(t, "srv-1", entries[0].ServerID)
	assert.NotZero(t, entries[0].ID)
}

func TestAppendRejectsUnknownCategory(t *testing.T) {
	l, _ := newTestLog(t)

	err := l.Append(context.Background(), "srv-1", types.EventCategory("bogus"), types.SeverityInfo, "x")
	assert.Error(t, err)
}

func TestBufferCappedAtMaxEntries(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		msg := fmt.Sprintf("check %d", i)
		require.NoError(t, l.Append(ctx, "srv-1", types.CategoryStatusCheck, types.SeverityInfo, msg))
	}

	entries, err := l.Read(ctx, "srv-1", types.CategoryStatusCheck, 100)
	require.NoError(t, err)
	require.Len(t, entries, MaxEntries)

	// Newest retained, oldest ten evicted.
	assert.Equal(t, "check 59", entries[0].Message)
	assert.Equal(t, "check 10", entries[len(entries)-1].Message)
}

func TestReadMergesCategoriesNewestFirst(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "srv-1", types.CategoryA2SCheck, types.SeverityWarning, "first"))
	require.NoError(t, l.Append(ctx, "srv-1", types.CategoryAutoRestart, types.SeveritySuccess, "second"))
	require.NoError(t, l.Append(ctx, "srv-1", types.CategoryA2SCheck, types.SeveritySuccess, "third"))

	entries, err := l.Read(ctx, "srv-1", "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "third", entries[0].Message)
	assert.Equal(t, "second", entries[1].Message)
	assert.Equal(t, "first", entries[2].Message)
}

func TestReadHonorsLimitAcrossCategories(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(ctx, "srv-1", types.CategoryStatusCheck, types.SeverityInfo, "s"))
		require.NoError(t, l.Append(ctx, "srv-1", types.CategoryAutoRestart, types.SeverityFailed, "r"))
	}

	entries, err := l.Read(ctx, "srv-1", "", 4)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestExpiredBufferContributesNothing(t *testing.T) {
	l, mr := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "srv-1", types.CategoryA2SCheck, types.SeverityWarning, "old"))
	require.NoError(t, l.Append(ctx, "srv-1", types.CategoryAutoRestart, types.SeveritySuccess, "kept"))

	// Age out one category's buffer only.
	mr.Del(bufferKey("srv-1", types.CategoryA2SCheck))

	entries, err := l.Read(ctx, "srv-1", "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
}

func TestAppendRefreshesBufferTTL(t *testing.T) {
	l, mr := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "srv-1", types.CategoryA2SCheck, types.SeverityInfo, "a"))
	mr.FastForward(3 * 24 * time.Hour)
	require.NoError(t, l.Append(ctx, "srv-1", types.CategoryA2SCheck, types.SeverityInfo, "b"))

	// The first append alone would expire 4 days from now; the second
	// append pushed expiry back to a full 7 days.
	ttl := mr.TTL(bufferKey("srv-1", types.CategoryA2SCheck))
	assert.Equal(t, BufferTTL, ttl)
}

func TestCorruptedEntriesAreSkipped(t *testing.T) {
	l, mr := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "srv-1", types.CategoryA2SCheck, types.SeverityInfo, "good"))
	mr.Lpush(bufferKey("srv-1", types.CategoryA2SCheck), "{broken")

	entries, err := l.Read(ctx, "srv-1", types.CategoryA2SCheck, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "good", entries[0].Message)
}

func TestServersAreDisjoint(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "srv-1", types.CategoryA2SCheck, types.SeverityInfo, "one"))
	require.NoError(t, l.Append(ctx, "srv-2", types.CategoryA2SCheck, types.SeverityInfo, "two"))

	entries, err := l.Read(ctx, "srv-1", "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "one", entries[0].Message)
}
