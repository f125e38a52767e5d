package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"arewa.org/internal/apperr"
	"arewa.org/internal/cache"
	"arewa.org/internal/clock"
)

const (
	DefaultDownloadTTL = 300 * time.Second

	downloadPrefix = "download:"
	downloadBytes  = 16
)

// Grant is what a download token authorises.
type Grant struct {
	UserID       string    `json:"user_id"`
	ResourceKind string    `json:"resource_kind"`
	ResourceID   string    `json:"resource_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Downloads issues single-use download tokens held in a cache.Store.
type Downloads struct {
	cache cache.Store
	clock clock.Clock
	ttl   time.Duration
}

func NewDownloads(store cache.Store, c clock.Clock, ttl time.Duration) *Downloads {
	if ttl <= 0 {
		ttl = DefaultDownloadTTL
	}
	return &Downloads{cache: store, clock: clock.OrSystem(c), ttl: ttl}
}

// TTL returns the download token lifetime.
func (d *Downloads) TTL() time.Duration { return d.ttl }

// Issue stores a grant for userID on the resource and returns the raw token.
func (d *Downloads) Issue(ctx context.Context, userID, kind, resourceID string) (string, Grant, error) {
	if strings.TrimSpace(userID) == "" {
		return "", Grant{}, apperr.Invalid("user_id", "user is required")
	}
	if strings.TrimSpace(resourceID) == "" {
		return "", Grant{}, apperr.Invalid("resource_id", "resource is required")
	}
	b := make([]byte, downloadBytes)
	if _, err := rand.Read(b); err != nil {
		return "", Grant{}, apperr.Infrastructure("download.random", err)
	}
	raw := hex.EncodeToString(b)
	g := Grant{
		UserID:       userID,
		ResourceKind: kind,
		ResourceID:   resourceID,
		ExpiresAt:    d.clock.Now().Add(d.ttl),
	}
	payload, err := json.Marshal(g)
	if err != nil {
		return "", Grant{}, apperr.Infrastructure("download.encode", err)
	}
	if err := d.cache.Put(ctx, downloadKey(raw), payload, d.ttl); err != nil {
		return "", Grant{}, apperr.Infrastructure("download.put", err)
	}
	return raw, g, nil
}

// Consume returns the grant for raw and removes it. A second call for the same
// token, or a call after expiry, yields apperr.ErrTokenInvalidOrExpired.
func (d *Downloads) Consume(ctx context.Context, raw string) (Grant, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Grant{}, apperr.ErrTokenInvalidOrExpired
	}
	payload, err := d.cache.Take(ctx, downloadKey(raw))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return Grant{}, apperr.ErrTokenInvalidOrExpired
		}
		return Grant{}, apperr.Infrastructure("download.take", err)
	}
	var g Grant
	if err := json.Unmarshal(payload, &g); err != nil {
		return Grant{}, apperr.ErrTokenInvalidOrExpired
	}
	if !d.clock.Now().Before(g.ExpiresAt) {
		return Grant{}, apperr.ErrTokenInvalidOrExpired
	}
	return g, nil
}

func downloadKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return downloadPrefix + base64.RawURLEncoding.EncodeToString(sum[:])
}
