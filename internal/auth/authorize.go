package auth

import "arewa.org/internal/access"

// Principal is a user resolved from a validated bearer token.
type Principal struct {
	User    access.User
	TokenID string
}

// NewPrincipal constructs a principal for user authenticated by tokenID.
func NewPrincipal(user access.User, tokenID string) Principal {
	return Principal{User: user, TokenID: tokenID}
}

// CanReview reports whether the principal may approve or deny access requests.
func (p Principal) CanReview() bool {
	return p.User.Type == access.UserAdmin
}
