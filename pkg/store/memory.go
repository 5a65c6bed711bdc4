package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/supporttools/gameserver-doctor/pkg/types"
)

// MemoryStore is a ServerStore held entirely in memory. It backs fleets
// declared in the configuration file and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	servers map[string]types.GameServer
}

// NewMemoryStore creates a MemoryStore seeded with the given servers.
func NewMemoryStore(servers []types.GameServer) *MemoryStore {
	m := &MemoryStore{servers: make(map[string]types.GameServer, len(servers))}
	for _, s := range servers {
		m.servers[s.ID] = s
	}
	return m
}

// GetServer returns the server with the given ID, or ErrServerNotFound.
func (m *MemoryStore) GetServer(ctx context.Context, id string) (*types.GameServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	server, ok := m.servers[id]
	if !ok {
		return nil, types.ErrServerNotFound
	}
	clone := server
	return &clone, nil
}

// ListServers returns all known servers ordered by ID.
func (m *MemoryStore) ListServers(ctx context.Context) ([]types.GameServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	servers := make([]types.GameServer, 0, len(m.servers))
	for _, s := range m.servers {
		servers = append(servers, s)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].ID < servers[j].ID })
	return servers, nil
}

// UpdateStatus persists a new status for the server.
func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status types.ServerStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	server, ok := m.servers[id]
	if !ok {
		return types.ErrServerNotFound
	}
	server.Status = status
	m.servers[id] = server
	return nil
}

// TouchLastCheck records when the server was last checked.
func (m *MemoryStore) TouchLastCheck(ctx context.Context, id string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	server, ok := m.servers[id]
	if !ok {
		return types.ErrServerNotFound
	}
	server.LastCheck = t
	m.servers[id] = server
	return nil
}

// Upsert adds or replaces a server record.
func (m *MemoryStore) Upsert(server types.GameServer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[server.ID] = server
}

// Delete removes a server record. Removing an unknown ID is a no-op.
func (m *MemoryStore) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.servers, id)
}

var _ types.ServerStore = (*MemoryStore)(nil)
