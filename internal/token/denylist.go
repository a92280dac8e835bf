package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "session:revoked:"

// RedisDenylist stores revoked jti values in redis with the token's remaining
// lifetime as TTL, so entries clean themselves up.
type RedisDenylist struct {
	client *redis.Client
}

// NewRedisDenylist creates a denylist backed by the given redis client.
func NewRedisDenylist(client *redis.Client) *RedisDenylist {
	return &RedisDenylist{client: client}
}

func (d *RedisDenylist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if err := d.client.Set(ctx, revokedKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("token: denylist set failed: %w", err)
	}
	return nil
}

func (d *RedisDenylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, revokedKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("token: denylist check failed: %w", err)
	}
	return n > 0, nil
}

// NoopDenylist never revokes; used when redis is not configured. Stateless
// tokens then remain valid until expiry, which the design permits.
type NoopDenylist struct{}

func (NoopDenylist) Revoke(ctx context.Context, jti string, ttl time.Duration) error { return nil }
func (NoopDenylist) IsRevoked(ctx context.Context, jti string) (bool, error)         { return false, nil }

var (
	_ Denylist = (*RedisDenylist)(nil)
	_ Denylist = NoopDenylist{}
)
