package auth

import (
	"time"

	"arewa.org/internal/access"
)

// Credentials is what the identity store knows about a login.
type Credentials struct {
	User         access.User
	PasswordHash string
}

// LoginRequest carries one authentication attempt.
type LoginRequest struct {
	Email    string
	Password string
	DeviceID string
	ClientIP string
}

// Session is returned once after a successful login. Token is the raw bearer
// value and is not recoverable afterwards.
type Session struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
	ExpiresIn time.Duration
	User      access.User
}
