package token

import (
	"context"
	"sync"
	"time"

	"arewa.org/internal/apperr"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps tokens in process.
type MemoryRepository struct {
	mu     sync.Mutex
	tokens map[string]Token
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tokens: make(map[string]Token)}
}

func (m *MemoryRepository) Create(ctx context.Context, t *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[t.ID]; ok {
		return apperr.Infrastructure("token.create", errDuplicateID)
	}
	m.tokens[t.ID] = *t
	return nil
}

func (m *MemoryRepository) FindByID(ctx context.Context, id string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, apperr.NotFound("token")
	}
	return &t, nil
}

func (m *MemoryRepository) Touch(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil
	}
	used := at
	t.LastUsedAt = &used
	m.tokens[id] = t
	return nil
}

func (m *MemoryRepository) DeleteExpired(ctx context.Context, userID string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tokens {
		if t.UserID == userID && t.ExpiresAt.Before(before) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tokens {
		if t.ExpiresAt.Before(before) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored tokens.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}
