package pending

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/models"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestRedisTakeIsConsumeOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)
	p := &models.PendingSession{
		ID:                   uuid.New(),
		UserWallet:           "w",
		DelegateKeyEncrypted: "sealed",
		DepositAmount:        decimal.RequireFromString("10"),
	}
	if err := s.Put(ctx, p, time.Minute); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(ctx, p.ID.String()); err != nil {
		t.Fatalf("get should not consume: %v", err)
	}
	got, err := s.Take(ctx, p.ID.String())
	if err != nil {
		t.Fatalf("first take: %v", err)
	}
	if got.UserWallet != "w" || got.DelegateKeyEncrypted != "sealed" || !got.DepositAmount.Equal(p.DepositAmount) {
		t.Errorf("took %+v", got)
	}
	if _, err := s.Take(ctx, p.ID.String()); !errors.Is(err, ErrNotFound) {
		t.Errorf("second take: got %v, want ErrNotFound", err)
	}
}

func TestRedisConcurrentTakeOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)
	p := &models.PendingSession{ID: uuid.New()}
	_ = s.Put(ctx, p, time.Minute)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Take(ctx, p.ID.String()); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestRedisEntriesExpire(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)
	p := &models.PendingSession{ID: uuid.New()}
	_ = s.Put(ctx, p, time.Minute)

	mr.FastForward(time.Minute + time.Second)
	if _, err := s.Take(ctx, p.ID.String()); !errors.Is(err, ErrNotFound) {
		t.Errorf("after ttl: got %v, want ErrNotFound", err)
	}
}

func TestRedisDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)
	p := &models.PendingSession{ID: uuid.New()}
	_ = s.Put(ctx, p, time.Minute)

	if err := s.Delete(ctx, p.ID.String()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, p.ID.String()); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: got %v, want ErrNotFound", err)
	}
}
