// Package download issues and redeems download tokens under the daily per-user quota.
package download

import (
	"context"
	"errors"
	"time"

	"arewa.org/internal/access"
	"arewa.org/internal/apperr"
	"arewa.org/internal/audit"
	"arewa.org/internal/clock"
	"arewa.org/internal/obs"
	"arewa.org/internal/ratelimit"
	"arewa.org/internal/token"
)

const (
	DefaultDailyLimit = 10

	scope = "downloads"
)

// Quota is a user's download allowance for the current day.
type Quota struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// Ticket is returned once per issued download token.
type Ticket struct {
	Token     string
	ExpiresAt time.Time
	ExpiresIn time.Duration
	Remaining int
}

// Service ties the access policy, the daily quota and download tokens together.
type Service struct {
	access    *access.Service
	resources access.ResourceStore
	gate      *ratelimit.Gate
	tokens    *token.Downloads
	clock     clock.Clock
	limit     int
}

// Option configures Service.
type Option func(*Service)

func WithDailyLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func NewService(accessSvc *access.Service, resources access.ResourceStore, gate *ratelimit.Gate, tokens *token.Downloads, opts ...Option) (*Service, error) {
	if accessSvc == nil || resources == nil || gate == nil || tokens == nil {
		return nil, errors.New("download: access, resources, gate and tokens are required")
	}
	s := &Service{
		access:    accessSvc,
		resources: resources,
		gate:      gate,
		tokens:    tokens,
		clock:     clock.System,
		limit:     DefaultDailyLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CheckDailyLimit reports how many downloads userID has left today.
func (s *Service) CheckDailyLimit(ctx context.Context, userID string) (Quota, error) {
	day := s.gate.Today()
	used, err := s.gate.DailyCount(ctx, userID, scope, day)
	if err != nil {
		return Quota{}, apperr.Infrastructure("download.quota", err)
	}
	return s.quota(used, day), nil
}

func (s *Service) quota(used int, day time.Time) Quota {
	remaining := s.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Quota{Limit: s.limit, Used: used, Remaining: remaining, ResetsAt: s.gate.NextReset(day)}
}

// Issue authorises user to download the resource at ref and returns a single-use token.
// The policy is consulted first, so a denied request never consumes quota, and
// the reservation is handed back when the token cannot be stored.
func (s *Service) Issue(ctx context.Context, user access.User, ref access.ResourceRef) (Ticket, error) {
	res, err := s.resources.FindResource(ctx, ref)
	if err != nil {
		return Ticket{}, err
	}
	d, err := s.access.DecideAccess(ctx, &user, res)
	if err != nil {
		return Ticket{}, err
	}
	obs.AccessDecision(string(res.AccessLevel), d.Allowed)
	if !d.Allowed {
		_ = audit.LogEvent(ctx, audit.UnauthorizedAccess, map[string]any{
			"resource": ref.String(),
			"reason":   d.Reason,
		})
		return Ticket{}, d.Err()
	}

	day := s.gate.Today()
	used, ok, err := s.gate.Reserve(ctx, user.ID, scope, day, s.limit)
	if err != nil {
		return Ticket{}, apperr.Infrastructure("download.quota", err)
	}
	if !ok {
		obs.RateLimited(scope)
		return Ticket{}, apperr.Limited(s.gate.NextReset(day).Sub(s.clock.Now()))
	}

	raw, grant, err := s.tokens.Issue(ctx, user.ID, string(ref.Kind), ref.ID)
	if err != nil {
		if relErr := s.gate.Release(ctx, user.ID, scope, day); relErr != nil {
			obs.Logger().WithError(relErr).WithField("user_id", user.ID).Warn("download quota not released")
		}
		return Ticket{}, err
	}
	obs.DownloadToken("issued")
	q := s.quota(used, day)
	_ = audit.LogEvent(ctx, audit.DownloadIssued, map[string]any{
		"resource":  ref.String(),
		"remaining": q.Remaining,
	})
	return Ticket{
		Token:     raw,
		ExpiresAt: grant.ExpiresAt,
		ExpiresIn: s.tokens.TTL(),
		Remaining: q.Remaining,
	}, nil
}

// Redeem consumes raw. A token can be redeemed once.
func (s *Service) Redeem(ctx context.Context, raw string) (token.Grant, error) {
	grant, err := s.tokens.Consume(ctx, raw)
	if err != nil {
		if errors.Is(err, apperr.ErrTokenInvalidOrExpired) {
			obs.DownloadToken("rejected")
		}
		return token.Grant{}, err
	}
	obs.DownloadToken("redeemed")
	_ = audit.LogEvent(ctx, audit.Downloaded, map[string]any{
		"owner":    grant.UserID,
		"resource": grant.ResourceKind + ":" + grant.ResourceID,
	})
	return grant, nil
}
