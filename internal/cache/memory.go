package cache

import (
	"context"
	"sync"

	"github.com/emrgen/storysync/internal/model"
)

var _ IndexCache = (*MemoryIndexCache)(nil)

// MemoryIndexCache keeps indexes in process memory.
type MemoryIndexCache struct {
	mu      sync.RWMutex
	indexes map[string]*model.MetadataIndex
}

func NewMemoryIndexCache() *MemoryIndexCache {
	return &MemoryIndexCache{indexes: make(map[string]*model.MetadataIndex)}
}

func (m *MemoryIndexCache) GetIndex(ctx context.Context, db string) (*model.MetadataIndex, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	index, ok := m.indexes[db]
	if !ok {
		return nil, nil
	}
	return index.Clone(), nil
}

func (m *MemoryIndexCache) SetIndex(ctx context.Context, db string, index *model.MetadataIndex) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.indexes[db] = index.Clone()
	return nil
}

func (m *MemoryIndexCache) DeleteIndex(ctx context.Context, db string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.indexes, db)
	return nil
}
