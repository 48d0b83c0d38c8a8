package cachex

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The expiry is only set by the increment that creates the key, so the
// window is anchored at the first hit rather than sliding on every call.
const incrWithTTLScript = `
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {n, ttl}
`

var incrWithTTLLua = redis.NewScript(incrWithTTLScript)

// IncrWithTTL atomically increments key and returns the new count along with
// the time left in the current window.
func (c *Cache) IncrWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrWithTTLLua.Run(ctx, c.rdb, []string{c.key(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("cachex: incr: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("cachex: incr: unexpected reply length %d", len(res))
	}

	remaining := time.Duration(res[1]) * time.Millisecond
	if res[1] < 0 {
		remaining = 0
	}
	return res[0], remaining, nil
}
