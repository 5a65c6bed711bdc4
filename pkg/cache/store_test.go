package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusSnapshot struct {
	Online  bool   `json:"online"`
	Players int    `json:"players"`
	Map     string `json:"map"`
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewStore(rdb, opts...), mr
}

func TestSetAndGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	in := statusSnapshot{Online: true, Players: 12, Map: "de_dust2"}
	require.NoError(t, store.Set(ctx, "status:srv-1", in, time.Minute))

	var out statusSnapshot
	found, err := store.Get(ctx, "status:srv-1", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)
}

func TestGetMissingKey(t *testing.T) {
	store, _ := newTestStore(t)

	var out statusSnapshot
	found, err := store.Get(context.Background(), "status:nope", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetAfterExpiryIsAbsent(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "status:srv-1", statusSnapshot{Online: true}, time.Second))

	mr.FastForward(2 * time.Second)

	var out statusSnapshot
	found, err := store.Get(ctx, "status:srv-1", &out)
	require.NoError(t, err)
	assert.False(t, found, "expired entry must read as absent, never stale")
}

func TestCorruptedEntryReadsAsMiss(t *testing.T) {
	store, mr := newTestStore(t)

	// A foreign writer left something that is not JSON for our type.
	mr.Set("status:srv-1", "{not json")

	var out statusSnapshot
	found, err := store.Get(context.Background(), "status:srv-1", &out)
	require.NoError(t, err, "deserialization failure must not propagate")
	assert.False(t, found)
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", statusSnapshot{}, time.Minute))
	require.NoError(t, store.Delete(ctx, "k"))

	var out statusSnapshot
	found, err := store.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting again is not an error.
	assert.NoError(t, store.Delete(ctx, "k"))
}

func TestKeysPatternEnumeration(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "status:srv-1", statusSnapshot{}, time.Minute))
	require.NoError(t, store.Set(ctx, "status:srv-2", statusSnapshot{}, time.Minute))
	require.NoError(t, store.Set(ctx, "version:latest", statusSnapshot{}, time.Minute))

	keys, err := store.Keys(ctx, "status:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"status:srv-1", "status:srv-2"}, keys)
}

func TestMemoryTierServesWithoutRedis(t *testing.T) {
	store, mr := newTestStore(t, WithMemoryTier(time.Minute))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "status:srv-1", statusSnapshot{Players: 3}, time.Minute))

	// Redis loses the key but the tier still holds it within its TTL.
	mr.Del("status:srv-1")

	var out statusSnapshot
	found, err := store.Get(ctx, "status:srv-1", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, out.Players)
}

func TestPing(t *testing.T) {
	store, mr := newTestStore(t)

	require.NoError(t, store.Ping(context.Background()))

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}
