package auth

import (
	"context"
	"strings"
	"sync"

	"arewa.org/internal/access"
	"arewa.org/internal/apperr"
)

var _ IdentityStore = (*MemoryIdentities)(nil)

// MemoryIdentities is an in-process IdentityStore.
type MemoryIdentities struct {
	mu      sync.RWMutex
	byID    map[string]Credentials
	byEmail map[string]string
}

func NewMemoryIdentities() *MemoryIdentities {
	return &MemoryIdentities{byID: make(map[string]Credentials), byEmail: make(map[string]string)}
}

// Put stores user with the given password hash.
func (m *MemoryIdentities) Put(user access.User, passwordHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	m.byID[user.ID] = Credentials{User: user, PasswordHash: passwordHash}
	m.byEmail[user.Email] = user.ID
}

// SetActive flips a user's active flag.
func (m *MemoryIdentities) SetActive(id string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byID[id]; ok {
		c.User.Active = active
		m.byID[id] = c
	}
}

// Remove deletes a user.
func (m *MemoryIdentities) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byID[id]; ok {
		delete(m.byEmail, c.User.Email)
		delete(m.byID, id)
	}
}

func (m *MemoryIdentities) FindByEmail(ctx context.Context, email string) (*Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	c := m.byID[id]
	return &c, nil
}

func (m *MemoryIdentities) FindByID(ctx context.Context, id string) (*access.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	u := c.User
	return &u, nil
}
