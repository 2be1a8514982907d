package authz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hydro13/kanbu-sub005/pkg/observability"
)

// AccessChecker is the boolean access-check surface shared by the gate
// and its cached decorator. Role resolution and matrix builds are never
// cached; they always read a fresh snapshot.
type AccessChecker interface {
	CanAccessWorkspace(ctx context.Context, userID, workspaceID int64) (bool, error)
	CanAccessProject(ctx context.Context, userID, projectID int64) (bool, error)
	CanAccessTask(ctx context.Context, userID, taskID int64) (bool, error)
	HasPermission(ctx context.Context, userID int64, resourceType ResourceType, resourceID int64, required Permission) (bool, error)
}

type accessCheckFunc func(ctx context.Context, userID, resourceID int64) (bool, error)

const cacheKeyPrefix = "kanbu:authz:u:"

// CachedChecker decorates an AccessChecker with a two-tier cache: a
// process-local expiring LRU in front of an optional shared Redis tier.
// Entries are keyed per user so a revocation can invalidate one user's
// decisions without flushing everyone's.
type CachedChecker struct {
	next    AccessChecker
	local   *expirable.LRU[string, bool]
	redis   *redis.Client
	ttl     time.Duration
	log     *observability.Logger
	metrics *observability.Metrics
}

// CacheOption configures a CachedChecker.
type CacheOption func(*CachedChecker)

// WithRedis adds a shared Redis tier behind the local LRU.
func WithRedis(client *redis.Client) CacheOption {
	return func(c *CachedChecker) { c.redis = client }
}

// WithCacheMetrics enables hit/miss instrumentation.
func WithCacheMetrics(m *observability.Metrics) CacheOption {
	return func(c *CachedChecker) { c.metrics = m }
}

// NewCachedChecker creates the caching decorator. localSize bounds the
// in-process tier; ttl applies to both tiers.
func NewCachedChecker(next AccessChecker, localSize int, ttl time.Duration, log *observability.Logger, opts ...CacheOption) *CachedChecker {
	if localSize <= 0 {
		localSize = 4096
	}
	c := &CachedChecker{
		next:  next,
		local: expirable.NewLRU[string, bool](localSize, nil, ttl),
		ttl:   ttl,
		log:   log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CanAccessWorkspace implements AccessChecker with caching.
func (c *CachedChecker) CanAccessWorkspace(ctx context.Context, userID, workspaceID int64) (bool, error) {
	key := fmt.Sprintf("%s%d:ws:%d", cacheKeyPrefix, userID, workspaceID)
	return c.cached(ctx, key, func(ctx context.Context) (bool, error) {
		return c.next.CanAccessWorkspace(ctx, userID, workspaceID)
	})
}

// CanAccessProject implements AccessChecker with caching.
func (c *CachedChecker) CanAccessProject(ctx context.Context, userID, projectID int64) (bool, error) {
	key := fmt.Sprintf("%s%d:proj:%d", cacheKeyPrefix, userID, projectID)
	return c.cached(ctx, key, func(ctx context.Context) (bool, error) {
		return c.next.CanAccessProject(ctx, userID, projectID)
	})
}

// CanAccessTask implements AccessChecker with caching.
func (c *CachedChecker) CanAccessTask(ctx context.Context, userID, taskID int64) (bool, error) {
	key := fmt.Sprintf("%s%d:task:%d", cacheKeyPrefix, userID, taskID)
	return c.cached(ctx, key, func(ctx context.Context) (bool, error) {
		return c.next.CanAccessTask(ctx, userID, taskID)
	})
}

// HasPermission implements AccessChecker with caching.
func (c *CachedChecker) HasPermission(ctx context.Context, userID int64, resourceType ResourceType, resourceID int64, required Permission) (bool, error) {
	key := fmt.Sprintf("%s%d:perm:%s:%d:%d", cacheKeyPrefix, userID, resourceType, resourceID, required)
	return c.cached(ctx, key, func(ctx context.Context) (bool, error) {
		return c.next.HasPermission(ctx, userID, resourceType, resourceID, required)
	})
}

func (c *CachedChecker) observeHit(tier string) {
	if c.metrics != nil {
		c.metrics.ObserveCacheHit(tier)
	}
}

func (c *CachedChecker) observeMiss(tier string) {
	if c.metrics != nil {
		c.metrics.ObserveCacheMiss(tier)
	}
}

func (c *CachedChecker) cached(ctx context.Context, key string, compute func(context.Context) (bool, error)) (bool, error) {
	if allowed, ok := c.local.Get(key); ok {
		c.observeHit("local")
		return allowed, nil
	}
	c.observeMiss("local")

	if c.redis != nil {
		val, err := c.redis.Get(ctx, key).Result()
		switch {
		case err == nil:
			c.observeHit("redis")
			allowed := val == "1"
			c.local.Add(key, allowed)
			return allowed, nil
		case err != redis.Nil:
			// A degraded Redis must not take access checks down with it.
			c.log.WithError(err).Warn("permission cache read failed")
		default:
			c.observeMiss("redis")
		}
	}

	allowed, err := compute(ctx)
	if err != nil {
		return false, err
	}

	c.local.Add(key, allowed)
	if c.redis != nil {
		val := "0"
		if allowed {
			val = "1"
		}
		if err := c.redis.Set(ctx, key, val, c.ttl).Err(); err != nil {
			c.log.WithError(err).Warn("permission cache write failed")
		}
	}
	return allowed, nil
}

// InvalidateUser drops every cached decision for one user across both
// tiers. Called after membership, group, or ACL changes affecting the
// user.
func (c *CachedChecker) InvalidateUser(ctx context.Context, userID int64) error {
	prefix := fmt.Sprintf("%s%d:", cacheKeyPrefix, userID)
	for _, key := range c.local.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.local.Remove(key)
		}
	}

	if c.redis == nil {
		return nil
	}
	var cursor uint64
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan permission cache: %w", err)
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete permission cache keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Flush clears the local tier. Redis entries are left to expire.
func (c *CachedChecker) Flush() {
	c.local.Purge()
}
