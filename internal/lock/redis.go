package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const leasePrefix = "lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds a SET NX PX lease so API replicas serialize on the same key.
type RedisLocker struct {
	rdb   *redis.Client
	retry time.Duration
	log   *zap.Logger
}

func NewRedisLocker(rdb *redis.Client, log *zap.Logger) *RedisLocker {
	return &RedisLocker{rdb: rdb, retry: 50 * time.Millisecond, log: log}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	k := leasePrefix + key

	for {
		ok, err := l.rdb.SetNX(ctx, k, token, ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-time.After(l.retry):
		}
	}

	return func() {
		// release must succeed even if the request context was cancelled
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{k}, token).Err(); err != nil {
			l.log.Warn("failed to release lease", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
