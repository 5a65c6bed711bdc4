// Package eventlog implements a bounded per-server event log on Redis lists.
// Each (server, category) pair owns one ring buffer capped at MaxEntries with
// a rolling absolute expiry; appends push to the front and evict the oldest
// entries beyond the cap.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/supporttools/gameserver-doctor/pkg/types"
)

// MaxEntries is the per-buffer capacity. The newest entries are retained.
const MaxEntries = 50

// BufferTTL is the absolute expiry of a buffer, refreshed on every append.
const BufferTTL = 7 * 24 * time.Hour

// Entry is one event log record.
type Entry struct {
	// ID is a monotonic, time-derived identifier.
	ID int64 `json:"id"`

	// ServerID is the server the event belongs to.
	ServerID string `json:"serverId"`

	// Category is the buffer the event was appended to.
	Category types.EventCategory `json:"category"`

	// Severity classifies the event.
	Severity types.Severity `json:"severity"`

	// Message is the human-readable event text.
	Message string `json:"message"`

	// CreatedAt is when the event was appended.
	CreatedAt time.Time `json:"createdAt"`
}

// Log is the bounded event log. All methods are safe for concurrent use;
// buffers for different servers use disjoint keys.
type Log struct {
	rdb *redis.Client

	// now is overridable for tests
	now func() time.Time
}

// NewLog creates a Log on the given Redis client.
func NewLog(rdb *redis.Client) *Log {
	return &Log{
		rdb: rdb,
		now: time.Now,
	}
}

// bufferKey returns the Redis key of one (server, category) ring buffer.
func bufferKey(serverID string, category types.EventCategory) string {
	return fmt.Sprintf("eventlog:%s:%s", serverID, category)
}

// Append records an event in the (serverID, category) buffer, truncates the
// buffer to the newest MaxEntries entries and refreshes its expiry.
func (l *Log) Append(ctx context.Context, serverID string, category types.EventCategory, severity types.Severity, message string) error {
	if !category.Valid() {
		return fmt.Errorf("unknown event category %q", category)
	}

	created := l.now()
	entry := Entry{
		ID:        created.UnixNano(),
		ServerID:  serverID,
		Category:  category,
		Severity:  severity,
		Message:   message,
		CreatedAt: created,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize event for server %q: %w", serverID, err)
	}

	key := bufferKey(serverID, category)
	pipe := l.rdb.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, MaxEntries-1)
	pipe.Expire(ctx, key, BufferTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append event for server %q: %w", serverID, err)
	}
	return nil
}

// Read returns up to limit entries for the server, newest first.
// With a non-empty category only that buffer is read; otherwise all known
// categories are merged and sorted by creation time descending. The merge is
// a best-effort union: an expired buffer simply contributes no entries.
func (l *Log) Read(ctx context.Context, serverID string, category types.EventCategory, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = MaxEntries
	}

	var categories []types.EventCategory
	if category != "" {
		if !category.Valid() {
			return nil, fmt.Errorf("unknown event category %q", category)
		}
		categories = []types.EventCategory{category}
	} else {
		categories = types.KnownCategories()
	}

	var entries []Entry
	for _, c := range categories {
		raw, err := l.rdb.LRange(ctx, bufferKey(serverID, c), 0, int64(limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s events for server %q: %w", c, serverID, err)
		}
		for _, item := range raw {
			var entry Entry
			if err := json.Unmarshal([]byte(item), &entry); err != nil {
				// Skip foreign or corrupted entries rather than failing the read.
				continue
			}
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
