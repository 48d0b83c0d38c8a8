package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/fintab/pkg/cachex"
	"github.com/aussiebroadwan/fintab/pkg/cryptox"
)

// Blacklist records superseded token identifiers until their natural expiry.
// Entries are keyed by a fingerprint of the jti and never deleted.
type Blacklist struct {
	Cache *cachex.Cache
}

func blacklistKey(jti string) string { return "bl:" + cryptox.FingerprintToken(jti) }

// Add blacklists jti for ttl. A non-positive ttl means the token has
// already expired and nothing is written.
func (b *Blacklist) Add(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	if err := b.Cache.Set(ctx, blacklistKey(jti), "1", ttl); err != nil {
		return fmt.Errorf("blacklist add: %w", err)
	}
	return nil
}

// Contains reports whether jti was blacklisted. Cache failures are errors,
// never a silent "not revoked".
func (b *Blacklist) Contains(ctx context.Context, jti string) (bool, error) {
	ok, err := b.Cache.Exists(ctx, blacklistKey(jti))
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return ok, nil
}
