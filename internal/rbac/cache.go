package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "rbac:perms:version"

// Cache holds resolved permission sets per user, keyed by a global version
// so a single bump invalidates every entry at once. A short TTL bounds
// staleness even if an invalidation is missed.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Cache) userKey(ctx context.Context, userID int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("rbac:perms:%d:v%d", userID, ver), nil
}

// Fetch loads the cached permission set for a user, resolving through the
// loader on miss. Concurrent misses for the same user collapse into one
// loader call.
func (c *Cache) Fetch(ctx context.Context, userID int64, loader func(context.Context) ([]string, error)) ([]string, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.userKey(ctx, userID)
	if err != nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var perms []string
		if err := json.Unmarshal(payload, &perms); err == nil {
			return perms, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return loader(ctx)
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		perms, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(perms)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// Invalidate drops the cached entry for one user. Callers invoke this
// synchronously before reporting a write as successful, so a revocation is
// never answered from a stale "allowed" entry.
func (c *Cache) Invalidate(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	key, err := c.userKey(ctx, userID)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, key).Err()
}

// BumpAll invalidates every user's entry by incrementing the version.
func (c *Cache) BumpAll(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
