// Package cachex is the shared cache and lock facility. It wraps a Redis
// client and exposes TTL key-value access, an atomic fixed-window counter and
// a compare-and-delete lock. Every operation is atomic on the server, so it is
// safe to share between many service instances.
package cachex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrMiss is returned by Get when the key does not exist.
	ErrMiss = errors.New("cachex: miss")
	// ErrLockHeld is returned by Acquire when another holder owns the lock.
	ErrLockHeld = errors.New("cachex: lock held")
	// ErrLockLost is returned by Release when the lock expired or was taken over.
	ErrLockLost = errors.New("cachex: lock not owned")
)

// Cache is a namespaced view over a Redis client.
type Cache struct {
	rdb    redis.UniversalClient
	prefix string
}

// New wraps an existing client. Keys are namespaced with prefix.
func New(rdb redis.UniversalClient, prefix string) *Cache {
	return &Cache{rdb: rdb, prefix: prefix}
}

// Connect dials url (redis:// or rediss://) and pings it. A cache that cannot
// be reached is an error, callers must not fall back to running uncached.
func Connect(ctx context.Context, url, prefix string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cachex: parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cachex: ping: %w", err)
	}
	return New(rdb, prefix), nil
}

func (c *Cache) key(k string) string { return c.prefix + k }

// Ping verifies the connection is still alive.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Set stores value under key for ttl. A ttl of zero keeps the key forever.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cachex: set: %w", err)
	}
	return nil
}

// Get returns the value for key or ErrMiss.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("cachex: get: %w", err)
	}
	return v, nil
}

// Exists reports whether key is present.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("cachex: exists: %w", err)
	}
	return n > 0, nil
}

// Delete removes the given keys. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("cachex: delete: %w", err)
	}
	return nil
}
