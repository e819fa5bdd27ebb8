package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, 30*time.Second), mini
}

func TestCacheFetchServesFromCacheAfterMiss(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) ([]string, error) {
		calls++
		return []string{PermDashboardView}, nil
	}

	perms, err := cache.Fetch(ctx, 1, loader)
	require.NoError(t, err)
	require.Equal(t, []string{PermDashboardView}, perms)
	require.Equal(t, 1, calls)

	perms, err = cache.Fetch(ctx, 1, loader)
	require.NoError(t, err)
	require.Equal(t, []string{PermDashboardView}, perms)
	require.Equal(t, 1, calls, "second fetch must hit the cache")
}

func TestCacheInvalidateForcesReload(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) ([]string, error) {
		calls++
		return []string{PermSaleView}, nil
	}

	_, err := cache.Fetch(ctx, 7, loader)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, 7))

	_, err = cache.Fetch(ctx, 7, loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestCacheBumpAllInvalidatesEveryUser(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	calls := map[int64]int{}
	loaderFor := func(userID int64) func(context.Context) ([]string, error) {
		return func(context.Context) ([]string, error) {
			calls[userID]++
			return []string{PermReportView}, nil
		}
	}

	_, err := cache.Fetch(ctx, 1, loaderFor(1))
	require.NoError(t, err)
	_, err = cache.Fetch(ctx, 2, loaderFor(2))
	require.NoError(t, err)

	require.NoError(t, cache.BumpAll(ctx))

	_, err = cache.Fetch(ctx, 1, loaderFor(1))
	require.NoError(t, err)
	_, err = cache.Fetch(ctx, 2, loaderFor(2))
	require.NoError(t, err)
	require.Equal(t, 2, calls[1])
	require.Equal(t, 2, calls[2])
}

func TestCacheFallsThroughToLoaderOnRedisOutage(t *testing.T) {
	cache, mini := newTestCache(t)
	ctx := context.Background()

	mini.Close()

	perms, err := cache.Fetch(ctx, 1, func(context.Context) ([]string, error) {
		return []string{PermAuditView}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{PermAuditView}, perms)
}

func TestCacheLoaderErrorPropagates(t *testing.T) {
	cache, _ := newTestCache(t)

	wantErr := errors.New("db down")
	_, err := cache.Fetch(context.Background(), 1, func(context.Context) ([]string, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestCacheEntriesExpireWithTTL(t *testing.T) {
	cache, mini := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) ([]string, error) {
		calls++
		return []string{PermDashboardView}, nil
	}

	_, err := cache.Fetch(ctx, 1, loader)
	require.NoError(t, err)

	mini.FastForward(time.Minute)

	_, err = cache.Fetch(ctx, 1, loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
