package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streampay/backend/internal/models"
)

const keyPrefix = "pending_session:"

// RedisStore shares pending sessions across API replicas. The delegate key
// is stored in its encrypted form only.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Put(ctx context.Context, p *models.PendingSession, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending session: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+p.ID.String(), data, ttl).Err(); err != nil {
		return fmt.Errorf("store pending session: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.PendingSession, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	return decode(data, err)
}

func (s *RedisStore) Take(ctx context.Context, id string) (*models.PendingSession, error) {
	data, err := s.rdb.GetDel(ctx, keyPrefix+id).Bytes()
	return decode(data, err)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, keyPrefix+id).Err()
}

func decode(data []byte, err error) (*models.PendingSession, error) {
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pending session: %w", err)
	}
	var p models.PendingSession
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode pending session: %w", err)
	}
	return &p, nil
}
