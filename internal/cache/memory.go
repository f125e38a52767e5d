package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"arewa.org/internal/clock"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store used for single-node deployments and tests.
type Memory struct {
	mu    sync.Mutex
	clock clock.Clock
	items map[string]memItem
}

type memItem struct {
	value     []byte
	expiresAt time.Time
}

func NewMemory(c clock.Clock) *Memory {
	return &Memory{clock: clock.OrSystem(c), items: make(map[string]memItem)}
}

func (m *Memory) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	item, ok := m.liveLocked(key, now)
	var n int64
	if ok {
		n, _ = strconv.ParseInt(string(item.value), 10, 64)
	} else {
		item = memItem{expiresAt: expiry(now, ttl)}
	}
	n++
	item.value = []byte(strconv.FormatInt(n, 10))
	m.items[key] = item
	return n, nil
}

func (m *Memory) Decr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.liveLocked(key, m.clock.Now())
	if !ok {
		return 0, nil
	}
	n, _ := strconv.ParseInt(string(item.value), 10, 64)
	if n <= 0 {
		return 0, nil
	}
	n--
	item.value = []byte(strconv.FormatInt(n, 10))
	m.items[key] = item
	return n, nil
}

func (m *Memory) Count(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.liveLocked(key, m.clock.Now())
	if !ok {
		return 0, nil
	}
	n, _ := strconv.ParseInt(string(item.value), 10, 64)
	return n, nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.liveLocked(key, m.clock.Now())
	if !ok {
		return nil, ErrMiss
	}
	return append([]byte(nil), item.value...), nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memItem{
		value:     append([]byte(nil), value...),
		expiresAt: expiry(m.clock.Now(), ttl),
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Take(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.liveLocked(key, m.clock.Now())
	if !ok {
		return nil, ErrMiss
	}
	delete(m.items, key)
	return item.value, nil
}

func (m *Memory) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	item, ok := m.liveLocked(key, now)
	if !ok || item.expiresAt.IsZero() {
		return 0, nil
	}
	return item.expiresAt.Sub(now), nil
}

// liveLocked returns the item at key, evicting it when expired.
func (m *Memory) liveLocked(key string, now time.Time) (memItem, bool) {
	item, ok := m.items[key]
	if !ok {
		return memItem{}, false
	}
	if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
		delete(m.items, key)
		return memItem{}, false
	}
	return item, true
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
