package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/apperr"
	"github.com/streampay/backend/internal/config"
	"github.com/streampay/backend/internal/models"
)

type profileUsers struct {
	*fakeUserStore
	touched []uuid.UUID
}

func (p *profileUsers) UpdateLastActive(_ context.Context, id uuid.UUID) error {
	p.touched = append(p.touched, id)
	return nil
}

type countingStats struct {
	calls  int
	totals models.Delta
	err    error
}

func (s *countingStats) CreatorTotals(context.Context, string) (models.Delta, error) {
	s.calls++
	return s.totals, s.err
}

type memoryProfileCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	readErr error
}

func (c *memoryProfileCache) Get(_ context.Context, wallet string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, false, c.readErr
	}
	b, ok := c.data[wallet]
	return b, ok, nil
}

func (c *memoryProfileCache) Set(_ context.Context, wallet string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[wallet] = data
	return nil
}

func (c *memoryProfileCache) Invalidate(_ context.Context, wallet string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, wallet)
	return nil
}

func newProfileFixture(admins ...string) (*ProfileService, *profileUsers, *countingStats, *memoryProfileCache) {
	users := &profileUsers{fakeUserStore: newFakeUserStore()}
	stats := &countingStats{totals: models.Delta{Views: 3, Revenue: dec("2.91")}}
	cache := &memoryProfileCache{data: make(map[string][]byte)}
	cfg := &config.Config{AdminWallets: admins}
	return NewProfileService(users, stats, cache, cfg, zap.NewNop()), users, stats, cache
}

func TestGetProfileCachesUntilInvalidated(t *testing.T) {
	svc, users, stats, cache := newProfileFixture("admin-wallet")
	ctx := context.Background()
	if _, err := users.GetOrCreateByWallet(ctx, "admin-wallet"); err != nil {
		t.Fatal(err)
	}

	p, err := svc.GetProfile(ctx, "admin-wallet")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !p.IsAdmin {
		t.Error("admin wallet not flagged as admin")
	}
	if p.Creator.Views != 3 || !p.Creator.Revenue.Equal(dec("2.91")) {
		t.Errorf("creator totals = %+v", p.Creator)
	}

	if _, err := svc.GetProfile(ctx, "admin-wallet"); err != nil {
		t.Fatal(err)
	}
	if stats.calls != 1 {
		t.Errorf("totals loaded %d times, want 1 (second read from cache)", stats.calls)
	}

	_ = cache.Invalidate(ctx, "admin-wallet")
	if _, err := svc.GetProfile(ctx, "admin-wallet"); err != nil {
		t.Fatal(err)
	}
	if stats.calls != 2 {
		t.Errorf("totals loaded %d times after invalidation, want 2", stats.calls)
	}
}

func TestGetProfileErrors(t *testing.T) {
	tests := []struct {
		name     string
		seed     bool
		statsErr error
		cacheErr error
		wantKind apperr.Kind
		wantErr  bool
	}{
		{name: "unknown wallet", wantKind: apperr.KindNotFound, wantErr: true},
		{name: "totals failure", seed: true, statsErr: errors.New("db down"), wantErr: true},
		{name: "cache read failure falls through", seed: true, cacheErr: errors.New("redis down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, users, stats, cache := newProfileFixture()
			stats.err = tt.statsErr
			cache.readErr = tt.cacheErr
			if tt.seed {
				_, _ = users.GetOrCreateByWallet(context.Background(), "wallet-a")
			}

			p, err := svc.GetProfile(context.Background(), "wallet-a")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if tt.wantKind != "" && apperr.KindOf(err) != tt.wantKind {
					t.Errorf("kind = %s, want %s", apperr.KindOf(err), tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.User.WalletAddress != "wallet-a" || p.IsAdmin {
				t.Errorf("profile = %+v", p)
			}
		})
	}
}

func TestTouchUpdatesLastActive(t *testing.T) {
	svc, users, _, _ := newProfileFixture()
	id := uuid.New()
	svc.Touch(context.Background(), id)
	if len(users.touched) != 1 || users.touched[0] != id {
		t.Errorf("touched = %v", users.touched)
	}
}
