package auth

import (
	"context"

	"arewa.org/internal/access"
)

// IdentityStore resolves users. Both lookups return apperr.ErrNotFound for unknown users.
type IdentityStore interface {
	FindByEmail(ctx context.Context, email string) (*Credentials, error)
	FindByID(ctx context.Context, id string) (*access.User, error)
}
