package cachesync

import (
	"context"
	"sync"
)

// MemoryMarkerStore 是进程内的 MarkerStore，未配置 Redis 时使用，重启后标记丢失。
type MemoryMarkerStore struct {
	mu      sync.Mutex
	markers map[string]bool
}

// NewMemoryMarkerStore 创建一个空的 MemoryMarkerStore。
func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{markers: make(map[string]bool)}
}

func (m *MemoryMarkerStore) Mark(ctx context.Context, tenantID, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[kind+":"+tenantID] = true
	return nil
}

func (m *MemoryMarkerStore) Clear(ctx context.Context, tenantID, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, kind+":"+tenantID)
	return nil
}

func (m *MemoryMarkerStore) Has(ctx context.Context, tenantID, kind string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[kind+":"+tenantID], nil
}
