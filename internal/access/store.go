package access

import (
	"context"
	"time"
)

// RequestRepository persists access requests.
//
// Create must refuse a second pending request for the same (user, resource)
// pair with apperr.ErrDuplicateRequest, atomically with the insert.
// Transition must only move a request whose current status equals from and
// report apperr.ErrInvalidState otherwise.
type RequestRepository interface {
	Create(ctx context.Context, req *AccessRequest) error
	Find(ctx context.Context, id string) (*AccessRequest, error)
	Transition(ctx context.Context, id string, from, to RequestStatus, reviewer string, at time.Time) (*AccessRequest, error)
	// Approved lists approved requests for the pair requested at or after since.
	Approved(ctx context.Context, userID string, ref ResourceRef, since time.Time) ([]AccessRequest, error)
	ListByUser(ctx context.Context, userID string) ([]AccessRequest, error)
}

// ResourceStore resolves catalogue entries.
type ResourceStore interface {
	FindResource(ctx context.Context, ref ResourceRef) (Resource, error)
}
