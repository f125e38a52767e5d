// Package ratelimit implements fixed-window attempt counters and per-day quotas over a cache.Store.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"arewa.org/internal/cache"
	"arewa.org/internal/clock"
)

const (
	windowPrefix = "rl:"
	dailyPrefix  = "daily:"
	dayLayout    = "20060102"
)

// Gate counts attempts per key. All increments go through the store's atomic
// Incr so parallel requests never lose updates.
type Gate struct {
	store cache.Store
	clock clock.Clock
	loc   *time.Location
}

// Option configures Gate.
type Option func(*Gate)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithDayLocation sets the zone whose midnight ends a daily quota. Defaults to UTC.
func WithDayLocation(loc *time.Location) Option {
	return func(g *Gate) {
		if loc != nil {
			g.loc = loc
		}
	}
}

func New(store cache.Store, opts ...Option) *Gate {
	g := &Gate{store: store, clock: clock.System, loc: time.UTC}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TooManyAttempts reports whether key has reached limit within its current window.
func (g *Gate) TooManyAttempts(ctx context.Context, key string, limit int) (bool, error) {
	n, err := g.store.Count(ctx, windowPrefix+key)
	if err != nil {
		return false, err
	}
	return n >= int64(limit), nil
}

// Hit records one attempt. The window of length ttl starts at the first hit.
func (g *Gate) Hit(ctx context.Context, key string, ttl time.Duration) (int, error) {
	n, err := g.store.Incr(ctx, windowPrefix+key, ttl)
	return int(n), err
}

// Attempt records one attempt and reports whether it is within limit. The
// increment and the comparison are a single step, so parallel callers can
// never all slip under the limit. Refused attempts are still counted.
func (g *Gate) Attempt(ctx context.Context, key string, limit int, ttl time.Duration) (bool, error) {
	n, err := g.store.Incr(ctx, windowPrefix+key, ttl)
	if err != nil {
		return false, err
	}
	return n <= int64(limit), nil
}

// Attempts returns the number of hits in the current window.
func (g *Gate) Attempts(ctx context.Context, key string) (int, error) {
	n, err := g.store.Count(ctx, windowPrefix+key)
	return int(n), err
}

// Clear resets key.
func (g *Gate) Clear(ctx context.Context, key string) error {
	return g.store.Delete(ctx, windowPrefix+key)
}

// AvailableIn returns how long until key's window resets.
func (g *Gate) AvailableIn(ctx context.Context, key string) (time.Duration, error) {
	return g.store.TTL(ctx, windowPrefix+key)
}

// Today returns midnight of the current day in the gate's day location.
func (g *Gate) Today() time.Time {
	return StartOfDay(g.clock.Now(), g.loc)
}

// DailyCount returns how many times identity used scope on day. The day is
// interpreted in the gate's day location.
func (g *Gate) DailyCount(ctx context.Context, identity, scope string, day time.Time) (int, error) {
	n, err := g.store.Count(ctx, g.dailyKey(identity, scope, day))
	return int(n), err
}

// Reserve increments the daily counter and reports whether the new count is within limit.
// Over-limit reservations are still counted; the day stays exhausted either way.
func (g *Gate) Reserve(ctx context.Context, identity, scope string, day time.Time, limit int) (int, bool, error) {
	n, err := g.store.Incr(ctx, g.dailyKey(identity, scope, day), g.dailyTTL(day))
	if err != nil {
		return 0, false, err
	}
	return int(n), n <= int64(limit), nil
}

// Release hands back one reservation made by Reserve for the same day.
func (g *Gate) Release(ctx context.Context, identity, scope string, day time.Time) error {
	_, err := g.store.Decr(ctx, g.dailyKey(identity, scope, day))
	return err
}

// NextReset returns the instant the quota for day rolls over.
func (g *Gate) NextReset(day time.Time) time.Time {
	return StartOfDay(day, g.loc).AddDate(0, 0, 1)
}

func (g *Gate) dailyKey(identity, scope string, day time.Time) string {
	var b strings.Builder
	b.WriteString(dailyPrefix)
	b.WriteString(scope)
	b.WriteByte(':')
	b.WriteString(identity)
	b.WriteByte(':')
	b.WriteString(day.In(g.loc).Format(dayLayout))
	return b.String()
}

// dailyTTL keeps a day's counter one hour past its rollover.
func (g *Gate) dailyTTL(day time.Time) time.Duration {
	ttl := g.NextReset(day).Sub(g.clock.Now()) + time.Hour
	if ttl <= 0 {
		return time.Hour
	}
	return ttl
}

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
