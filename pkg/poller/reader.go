package poller

import (
	"context"
	"strings"

	"github.com/supporttools/gameserver-doctor/pkg/cache"
)

// Reader provides read-only access to the cached data maintained by the
// pollers. API-facing callers consume this instead of querying servers
// directly, so status reads always return the best-known cached state.
type Reader struct {
	cache *cache.Store
}

// NewReader creates a Reader on the given cache store.
func NewReader(cacheStore *cache.Store) *Reader {
	return &Reader{cache: cacheStore}
}

// Status returns the cached status snapshot for one server.
// The boolean reports whether a snapshot was found.
func (r *Reader) Status(ctx context.Context, serverID string) (*StatusSnapshot, bool, error) {
	var snap StatusSnapshot
	found, err := r.cache.Get(ctx, StatusKey(serverID), &snap)
	if err != nil || !found {
		return nil, false, err
	}
	return &snap, true, nil
}

// AllStatuses returns every cached status snapshot, keyed by server ID.
// Entries that expire or fail to deserialize between enumeration and read
// are silently skipped.
func (r *Reader) AllStatuses(ctx context.Context) (map[string]StatusSnapshot, error) {
	keys, err := r.cache.Keys(ctx, StatusKeyPattern())
	if err != nil {
		return nil, err
	}

	out := make(map[string]StatusSnapshot, len(keys))
	for _, key := range keys {
		var snap StatusSnapshot
		found, err := r.cache.Get(ctx, key, &snap)
		if err != nil || !found {
			continue
		}
		out[strings.TrimPrefix(key, statusKeyPrefix)] = snap
	}
	return out, nil
}

// Version returns the cached external version value.
// The boolean reports whether a value was found.
func (r *Reader) Version(ctx context.Context) (*VersionRecord, bool, error) {
	var record VersionRecord
	found, err := r.cache.Get(ctx, versionKey, &record)
	if err != nil || !found {
		return nil, false, err
	}
	return &record, true, nil
}
