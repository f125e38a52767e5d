// Package auth authenticates archive users and resolves bearer tokens to principals.
package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"arewa.org/internal/apperr"
	"arewa.org/internal/obs"
	"arewa.org/internal/ratelimit"
	"arewa.org/internal/token"
)

const (
	DefaultLoginLimit   = 5
	DefaultLoginLockout = 300 * time.Second

	loginKeyPrefix = "api_auth:"
	maxEmailLength = 254
)

// Gateway authenticates users and validates their bearer tokens.
type Gateway struct {
	identities IdentityStore
	tokens     *token.Store
	gate       *ratelimit.Gate
	verifier   PasswordVerifier
	limit      int
	lockout    time.Duration
}

// GatewayOption configures Gateway.
type GatewayOption func(*Gateway) error

// WithVerifier overrides the password verifier.
func WithVerifier(v PasswordVerifier) GatewayOption {
	return func(g *Gateway) error {
		if v == nil {
			return errors.New("auth: verifier is nil")
		}
		g.verifier = v
		return nil
	}
}

// WithLoginLimit sets how many failed logins per client lock it out for lockout.
func WithLoginLimit(limit int, lockout time.Duration) GatewayOption {
	return func(g *Gateway) error {
		if limit <= 0 || lockout <= 0 {
			return errors.New("auth: login limit and lockout must be positive")
		}
		g.limit = limit
		g.lockout = lockout
		return nil
	}
}

// NewGateway constructs Gateway with optional configuration.
func NewGateway(identities IdentityStore, tokens *token.Store, gate *ratelimit.Gate, opts ...GatewayOption) (*Gateway, error) {
	if identities == nil || tokens == nil || gate == nil {
		return nil, errors.New("auth: identities, tokens and gate are required")
	}
	g := &Gateway{
		identities: identities,
		tokens:     tokens,
		gate:       gate,
		verifier:   Passwords{},
		limit:      DefaultLoginLimit,
		lockout:    DefaultLoginLockout,
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// LoginKey is the rate gate key for login attempts from clientIP.
func LoginKey(clientIP string) string {
	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		clientIP = "unknown"
	}
	return loginKeyPrefix + clientIP
}

// Authenticate checks req against the identity store and issues a bearer token.
//
// Every attempt is reserved against the client's lockout counter before any
// credential is looked at, and a locked-out client is refused there. Unknown
// emails and wrong passwords fail identically; a disabled account is only
// reported once the password matched. A successful login clears the counter.
func (g *Gateway) Authenticate(ctx context.Context, req LoginRequest) (Session, error) {
	key := LoginKey(req.ClientIP)
	allowed, err := g.gate.Attempt(ctx, key, g.limit, g.lockout)
	if err != nil {
		return Session{}, apperr.Infrastructure("auth.quota", err)
	}
	if !allowed {
		retry, err := g.gate.AvailableIn(ctx, key)
		if err != nil {
			return Session{}, apperr.Infrastructure("auth.quota", err)
		}
		obs.AuthAttempt("locked")
		obs.RateLimited("login")
		return Session{}, apperr.Limited(retry)
	}

	email, err := normalizeEmail(req.Email)
	if err == nil && req.Password == "" {
		err = apperr.Invalid("password", "password is required")
	}
	if err != nil {
		obs.AuthAttempt("invalid_input")
		return Session{}, err
	}

	creds, err := g.identities.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		_ = g.verifier.Verify(dummyHash(), req.Password)
		obs.AuthAttempt("invalid_credentials")
		return Session{}, apperr.ErrInvalidCredentials
	case err != nil:
		return Session{}, apperr.Infrastructure("auth.find_user", err)
	}

	if err := g.verifier.Verify(creds.PasswordHash, req.Password); err != nil {
		obs.AuthAttempt("invalid_credentials")
		return Session{}, apperr.ErrInvalidCredentials
	}
	if !creds.User.Active {
		obs.AuthAttempt("disabled")
		return Session{}, apperr.ErrAccountDisabled
	}

	if err := g.gate.Clear(ctx, key); err != nil {
		return Session{}, apperr.Infrastructure("auth.quota", err)
	}
	issued, err := g.tokens.Issue(ctx, creds.User.ID, req.DeviceID)
	if err != nil {
		return Session{}, err
	}
	obs.AuthAttempt("success")
	return Session{
		Token:     issued.Raw,
		TokenID:   issued.ID,
		ExpiresAt: issued.ExpiresAt,
		ExpiresIn: g.tokens.TTL(),
		User:      creds.User,
	}, nil
}

// ValidateBearerToken resolves raw to the principal owning it.
func (g *Gateway) ValidateBearerToken(ctx context.Context, raw string) (Principal, error) {
	rec, err := g.tokens.Validate(ctx, raw)
	if err != nil {
		if errors.Is(err, apperr.ErrRateLimited) {
			obs.RateLimited("token")
		}
		return Principal{}, err
	}
	user, err := g.identities.FindByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Principal{}, apperr.ErrTokenInvalidOrExpired
		}
		return Principal{}, apperr.Infrastructure("auth.find_user", err)
	}
	if !user.Active {
		return Principal{}, apperr.ErrAccountDisabled
	}
	return NewPrincipal(*user, rec.ID), nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperr.Invalid("email", "email is required")
	}
	if len(email) > maxEmailLength {
		return "", apperr.Invalid("email", "email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Invalid("email", "email is malformed")
	}
	return email, nil
}
