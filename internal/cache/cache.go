// Package cache holds the Redis-backed read-model helpers around payments.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	profilePrefix    = "profile:"
	settlementPrefix = "settlement:"
	settlementClaim  = "pending"
)

// ProfileCache fronts the public creator profile read model.
type ProfileCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewProfileCache(rdb *redis.Client, ttl time.Duration) *ProfileCache {
	return &ProfileCache{rdb: rdb, ttl: ttl}
}

func (c *ProfileCache) Get(ctx context.Context, wallet string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, profilePrefix+wallet).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *ProfileCache) Set(ctx context.Context, wallet string, data []byte) error {
	return c.rdb.Set(ctx, profilePrefix+wallet, data, c.ttl).Err()
}

func (c *ProfileCache) Invalidate(ctx context.Context, wallet string) error {
	return c.rdb.Del(ctx, profilePrefix+wallet).Err()
}

// SettlementCache makes facilitator settlement idempotent per transaction
// message. A key moves from claimed to settled, or is released on failure.
type SettlementCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSettlementCache(rdb *redis.Client, ttl time.Duration) *SettlementCache {
	return &SettlementCache{rdb: rdb, ttl: ttl}
}

// Claim returns ok=false with the stored signature when the key was already
// settled, and ok=false with an empty signature while another settle runs.
func (c *SettlementCache) Claim(ctx context.Context, key string) (ok bool, signature string, err error) {
	claimed, err := c.rdb.SetNX(ctx, settlementPrefix+key, settlementClaim, c.ttl).Result()
	if err != nil {
		return false, "", err
	}
	if claimed {
		return true, "", nil
	}
	v, err := c.rdb.Get(ctx, settlementPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	if v == settlementClaim {
		return false, "", nil
	}
	return false, v, nil
}

func (c *SettlementCache) Complete(ctx context.Context, key, signature string) error {
	return c.rdb.Set(ctx, settlementPrefix+key, signature, c.ttl).Err()
}

func (c *SettlementCache) Release(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, settlementPrefix+key).Err()
}
