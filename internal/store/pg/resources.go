package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"arewa.org/internal/access"
	"arewa.org/internal/apperr"
)

var (
	_ access.ResourceStore = (*ResourceRepository)(nil)
	_ access.ResourceStore = (*CachedResources)(nil)
)

// ResourceRepository reads the access tier of catalogue entries.
type ResourceRepository struct {
	db *sql.DB
}

func (r *ResourceRepository) FindResource(ctx context.Context, ref access.ResourceRef) (access.Resource, error) {
	res := access.Resource{Ref: ref}
	var title sql.NullString
	err := r.db.QueryRowContext(ctx, `
		select title, access_level
		from resources
		where kind = $1 and id = $2
	`, string(ref.Kind), ref.ID).Scan(&title, &res.AccessLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Resource{}, apperr.NotFound(ref.String())
	}
	if err != nil {
		return access.Resource{}, apperr.Infrastructure("pg.resources.find", err)
	}
	res.Title = title.String
	return res, nil
}

// CachedResources keeps recent lookups for a short time. Tier changes become
// visible once the entry expires.
type CachedResources struct {
	next  access.ResourceStore
	cache *expirable.LRU[access.ResourceRef, access.Resource]
}

const (
	DefaultResourceCacheSize = 4096
	DefaultResourceCacheTTL  = 30 * time.Second
)

func NewCachedResources(next access.ResourceStore, size int, ttl time.Duration) *CachedResources {
	if size <= 0 {
		size = DefaultResourceCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultResourceCacheTTL
	}
	return &CachedResources{next: next, cache: expirable.NewLRU[access.ResourceRef, access.Resource](size, nil, ttl)}
}

func (c *CachedResources) FindResource(ctx context.Context, ref access.ResourceRef) (access.Resource, error) {
	if res, ok := c.cache.Get(ref); ok {
		return res, nil
	}
	res, err := c.next.FindResource(ctx, ref)
	if err != nil {
		return access.Resource{}, err
	}
	c.cache.Add(ref, res)
	return res, nil
}

// Invalidate drops ref from the cache.
func (c *CachedResources) Invalidate(ref access.ResourceRef) {
	c.cache.Remove(ref)
}
