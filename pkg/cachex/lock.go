package cachex

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/fintab/pkg/cryptox"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

var releaseLua = redis.NewScript(releaseScript)

// Lock is a held distributed lock. Token proves ownership on release.
type Lock struct {
	Resource string
	Token    string
}

func lockKey(resource string) string { return "lock:" + resource }

// Acquire takes the lock on resource for ttl. It never blocks, ErrLockHeld
// means somebody else has it.
func (c *Cache) Acquire(ctx context.Context, resource string, ttl time.Duration) (Lock, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return Lock{}, err
	}

	ok, err := c.rdb.SetNX(ctx, c.key(lockKey(resource)), token, ttl).Result()
	if err != nil {
		return Lock{}, fmt.Errorf("cachex: acquire: %w", err)
	}
	if !ok {
		return Lock{}, ErrLockHeld
	}
	return Lock{Resource: resource, Token: token}, nil
}

// Release deletes the lock only if it still carries token. ErrLockLost means
// the lock expired and may now belong to another holder.
func (c *Cache) Release(ctx context.Context, resource, token string) error {
	n, err := releaseLua.Run(ctx, c.rdb, []string{c.key(lockKey(resource))}, token).Int64()
	if err != nil {
		return fmt.Errorf("cachex: release: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// WithLock runs fn while holding the lock on resource.
func (c *Cache) WithLock(ctx context.Context, resource string, ttl time.Duration, fn func(ctx context.Context) error) error {
	l, err := c.Acquire(ctx, resource, ttl)
	if err != nil {
		return err
	}
	runErr := fn(ctx)

	// Release with a fresh context so a cancelled caller still frees the lock
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.Release(relCtx, l.Resource, l.Token); err != nil && runErr == nil {
		return err
	}
	return runErr
}
