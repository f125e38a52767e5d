package access

import (
	"context"
	"sync"

	"arewa.org/internal/apperr"
)

var _ ResourceStore = (*MemoryResources)(nil)

// MemoryResources is a fixed catalogue, used by tests and local runs.
type MemoryResources struct {
	mu    sync.RWMutex
	items map[ResourceRef]Resource
}

func NewMemoryResources(resources ...Resource) *MemoryResources {
	m := &MemoryResources{items: make(map[ResourceRef]Resource, len(resources))}
	for _, r := range resources {
		m.items[r.Ref] = r
	}
	return m
}

func (m *MemoryResources) Put(r Resource) {
	m.mu.Lock()
	m.items[r.Ref] = r
	m.mu.Unlock()
}

func (m *MemoryResources) FindResource(ctx context.Context, ref ResourceRef) (Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.items[ref]
	if !ok {
		return Resource{}, apperr.NotFound(ref.String())
	}
	return r, nil
}
