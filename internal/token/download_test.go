package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"arewa.org/internal/apperr"
	"arewa.org/internal/cache"
	"arewa.org/internal/clock"
)

func TestDownloadTokenSingleUse(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC))
	d := NewDownloads(cache.NewMemory(clk), clk, 0)
	require.Equal(t, 300*time.Second, d.TTL())

	raw, grant, err := d.Issue(ctx, "user-1", "asset", "a-42")
	require.NoError(t, err)
	require.Len(t, raw, 32)
	require.Equal(t, clk.Now().Add(300*time.Second), grant.ExpiresAt)

	got, err := d.Consume(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", got.UserID)
	require.Equal(t, "a-42", got.ResourceID)
	require.Equal(t, "asset", got.ResourceKind)

	_, err = d.Consume(ctx, raw)
	require.ErrorIs(t, err, apperr.ErrTokenInvalidOrExpired)
}

func TestDownloadTokenExpires(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC))
	d := NewDownloads(cache.NewMemory(clk), clk, 300*time.Second)

	raw, _, err := d.Issue(ctx, "user-1", "asset", "a-42")
	require.NoError(t, err)

	clk.Advance(300 * time.Second)
	_, err = d.Consume(ctx, raw)
	require.ErrorIs(t, err, apperr.ErrTokenInvalidOrExpired)

	_, err = d.Consume(ctx, "")
	require.ErrorIs(t, err, apperr.ErrTokenInvalidOrExpired)
	_, _, err = d.Issue(ctx, "", "asset", "a-1")
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDownloadTokenConcurrentConsumeOverRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	d := NewDownloads(cache.NewRedis(client, "test:"), nil, time.Minute)

	raw, _, err := d.Issue(ctx, "user-9", "collection", "c-1")
	require.NoError(t, err)
	keys := mr.Keys()
	require.Len(t, keys, 1)
	require.NotContains(t, keys[0], raw)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Consume(ctx, raw); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}
