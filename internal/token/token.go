// Package token issues and validates opaque bearer tokens and single-use download tokens.
//
// A bearer token is "<id>.<secret>". Only the SHA-256 of the secret is persisted; the raw
// value is returned once by Issue and never stored or logged.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"arewa.org/internal/apperr"
	"arewa.org/internal/clock"
	"arewa.org/internal/ids"
	"arewa.org/internal/ratelimit"
)

const (
	DefaultTTL           = 24 * time.Hour
	DefaultGrace         = 24 * time.Hour
	DefaultFailureLimit  = 100
	DefaultFailureWindow = time.Hour

	secretBytes = 32
)

var errDuplicateID = errors.New("token: duplicate id")

// Token is the persisted form of a bearer token.
type Token struct {
	ID         string
	UserID     string
	Hash       string
	DeviceID   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	LastUsedAt *time.Time
}

// Repository persists bearer tokens.
type Repository interface {
	Create(ctx context.Context, t *Token) error
	// FindByID returns apperr.ErrNotFound for unknown ids.
	FindByID(ctx context.Context, id string) (*Token, error)
	Touch(ctx context.Context, id string, at time.Time) error
	// DeleteExpired removes the user's tokens that expired before the cutoff.
	DeleteExpired(ctx context.Context, userID string, before time.Time) (int64, error)
	// PurgeExpired removes every token that expired before the cutoff.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// Issued is returned once by Issue.
type Issued struct {
	Raw       string
	ID        string
	ExpiresAt time.Time
}

// Store issues and validates bearer tokens.
type Store struct {
	repo          Repository
	gate          *ratelimit.Gate
	clock         clock.Clock
	ttl           time.Duration
	grace         time.Duration
	failureLimit  int
	failureWindow time.Duration
}

// Option configures Store.
type Option func(*Store) error

// WithClock overrides the time source (useful for tests).
func WithClock(c clock.Clock) Option {
	return func(s *Store) error {
		if c != nil {
			s.clock = c
		}
		return nil
	}
}

// WithTTL configures bearer token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) error {
		if ttl > 0 {
			s.ttl = ttl
		}
		return nil
	}
}

// WithGrace sets how long past expiry a token is kept before cleanup.
func WithGrace(d time.Duration) Option {
	return func(s *Store) error {
		if d < 0 {
			return errors.New("token: grace must not be negative")
		}
		s.grace = d
		return nil
	}
}

// WithFailureQuota limits validation failures per presented token.
func WithFailureQuota(limit int, window time.Duration) Option {
	return func(s *Store) error {
		if limit <= 0 || window <= 0 {
			return errors.New("token: failure quota requires a positive limit and window")
		}
		s.failureLimit = limit
		s.failureWindow = window
		return nil
	}
}

func NewStore(repo Repository, gate *ratelimit.Gate, opts ...Option) (*Store, error) {
	if repo == nil {
		return nil, errors.New("token: repository is required")
	}
	if gate == nil {
		return nil, errors.New("token: rate gate is required")
	}
	s := &Store{
		repo:          repo,
		gate:          gate,
		clock:         clock.System,
		ttl:           DefaultTTL,
		grace:         DefaultGrace,
		failureLimit:  DefaultFailureLimit,
		failureWindow: DefaultFailureWindow,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// TTL returns the bearer token lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Issue creates a token for userID and returns its raw value. Tokens of the same
// user that expired more than the grace window ago are removed first.
func (s *Store) Issue(ctx context.Context, userID, deviceID string) (Issued, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Issued{}, apperr.Invalid("user_id", "user is required")
	}
	now := s.clock.Now()
	if _, err := s.repo.DeleteExpired(ctx, userID, now.Add(-s.grace)); err != nil {
		return Issued{}, apperr.Infrastructure("token.cleanup", err)
	}

	secret, err := randomSecret()
	if err != nil {
		return Issued{}, apperr.Infrastructure("token.random", err)
	}
	rec := &Token{
		ID:        ids.New(),
		UserID:    userID,
		Hash:      hashSecret(secret),
		DeviceID:  strings.TrimSpace(deviceID),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return Issued{}, apperr.Infrastructure("token.create", err)
	}
	return Issued{Raw: rec.ID + "." + secret, ID: rec.ID, ExpiresAt: rec.ExpiresAt}, nil
}

// Validate resolves raw to its token record. Malformed, unknown, expired and
// mismatching tokens all yield apperr.ErrTokenInvalidOrExpired. Each
// validation reserves one attempt against the presented token's failure
// quota up front; a successful one releases it.
func (s *Store) Validate(ctx context.Context, raw string) (*Token, error) {
	raw = strings.TrimSpace(raw)
	key := FailureKey(raw)
	allowed, err := s.gate.Attempt(ctx, key, s.failureLimit, s.failureWindow)
	if err != nil {
		return nil, apperr.Infrastructure("token.quota", err)
	}
	if !allowed {
		retry, err := s.gate.AvailableIn(ctx, key)
		if err != nil {
			return nil, apperr.Infrastructure("token.quota", err)
		}
		return nil, apperr.Limited(retry)
	}

	rec, err := s.lookup(ctx, raw)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Clear(ctx, key); err != nil {
		return nil, apperr.Infrastructure("token.quota", err)
	}

	now := s.clock.Now()
	if err := s.repo.Touch(ctx, rec.ID, now); err != nil {
		return nil, apperr.Infrastructure("token.touch", err)
	}
	rec.LastUsedAt = &now
	return rec, nil
}

func (s *Store) lookup(ctx context.Context, raw string) (*Token, error) {
	id, secret, ok := splitToken(raw)
	if !ok {
		return nil, apperr.ErrTokenInvalidOrExpired
	}
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrTokenInvalidOrExpired
		}
		return nil, apperr.Infrastructure("token.find", err)
	}
	matched := secureCompareHash(rec.Hash, secret)
	if !matched || !s.clock.Now().Before(rec.ExpiresAt) {
		return nil, apperr.ErrTokenInvalidOrExpired
	}
	return rec, nil
}

// Sweep removes every token expired beyond the grace window.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, s.clock.Now().Add(-s.grace))
	if err != nil {
		return 0, apperr.Infrastructure("token.sweep", err)
	}
	return n, nil
}

// FailureKey is the rate gate key for validation failures of raw.
func FailureKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return "api_token:" + hex.EncodeToString(sum[:])[:16]
}

// Prefix returns a log-safe reference to raw.
func Prefix(raw string) string {
	if len(raw) <= 8 {
		return strings.Repeat("*", len(raw))
	}
	return raw[:8]
}

func randomSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func splitToken(raw string) (id, secret string, ok bool) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func secureCompareHash(expected, secret string) bool {
	actual := hashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}
