package access

import (
	"context"
	"sort"
	"sync"
	"time"

	"arewa.org/internal/apperr"
)

var _ RequestRepository = (*MemoryRequests)(nil)

// MemoryRequests is an in-process RequestRepository. The pending-pair check
// and the insert happen under one lock.
type MemoryRequests struct {
	mu    sync.Mutex
	items map[string]AccessRequest
}

func NewMemoryRequests() *MemoryRequests {
	return &MemoryRequests{items: make(map[string]AccessRequest)}
}

func (m *MemoryRequests) Create(ctx context.Context, req *AccessRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Status == StatusPending && existing.UserID == req.UserID && existing.Resource == req.Resource {
			return apperr.ErrDuplicateRequest
		}
	}
	if _, ok := m.items[req.ID]; ok {
		return apperr.ErrDuplicateRequest
	}
	m.items[req.ID] = *req
	return nil
}

func (m *MemoryRequests) Find(ctx context.Context, id string) (*AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("access request " + id)
	}
	return &req, nil
}

func (m *MemoryRequests) Transition(ctx context.Context, id string, from, to RequestStatus, reviewer string, at time.Time) (*AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("access request " + id)
	}
	if req.Status != from {
		return nil, apperr.InvalidState("request %s is %s, not %s", req.Code, req.Status, from)
	}
	req.Status = to
	req.ReviewedBy = reviewer
	reviewedAt := at
	req.ReviewedAt = &reviewedAt
	m.items[id] = req
	return &req, nil
}

func (m *MemoryRequests) Approved(ctx context.Context, userID string, ref ResourceRef, since time.Time) ([]AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AccessRequest
	for _, req := range m.items {
		if req.Status != StatusApproved || req.UserID != userID || req.Resource != ref {
			continue
		}
		if req.RequestedAt.Before(since) {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (m *MemoryRequests) ListByUser(ctx context.Context, userID string) ([]AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AccessRequest
	for _, req := range m.items {
		if req.UserID == userID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}
