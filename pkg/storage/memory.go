package storage

import (
	"context"
	"strings"
	"sync"
)

// MemoryArtifactStore 是进程内的 ArtifactStore，用于未启用 MinIO 的单机部署和测试。
type MemoryArtifactStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryArtifactStore 创建空的内存产物存储。
func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{objects: make(map[string][]byte)}
}

func memoryKey(tenantID, name string) string {
	return tenantID + "/" + name
}

func (m *MemoryArtifactStore) Get(ctx context.Context, tenantID, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[memoryKey(tenantID, name)]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryArtifactStore) Put(ctx context.Context, tenantID, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[memoryKey(tenantID, name)] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryArtifactStore) Delete(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.objects {
		if strings.HasPrefix(k, tenantID+"/") {
			delete(m.objects, k)
		}
	}
	return nil
}

// Keys 返回租户已有的产物名。
func (m *MemoryArtifactStore) Keys(tenantID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, tenantID+"/") {
			out = append(out, strings.TrimPrefix(k, tenantID+"/"))
		}
	}
	return out
}
