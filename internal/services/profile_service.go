package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/apperr"
	"github.com/streampay/backend/internal/config"
	"github.com/streampay/backend/internal/models"
)

type ProfileStore interface {
	GetByWallet(ctx context.Context, wallet string) (*models.User, error)
	UpdateLastActive(ctx context.Context, id uuid.UUID) error
}

type CreatorStats interface {
	CreatorTotals(ctx context.Context, creatorWallet string) (models.Delta, error)
}

type ProfileCache interface {
	Get(ctx context.Context, wallet string) ([]byte, bool, error)
	Set(ctx context.Context, wallet string, data []byte) error
}

type Profile struct {
	User    *models.User `json:"user"`
	IsAdmin bool         `json:"is_admin"`
	Creator models.Delta `json:"creator"`
}

// ProfileService serves the cached wallet profile. Payments invalidate the
// creator's entry.
type ProfileService struct {
	users ProfileStore
	stats CreatorStats
	cache ProfileCache
	cfg   *config.Config
	log   *zap.Logger
}

func NewProfileService(users ProfileStore, stats CreatorStats, cache ProfileCache, cfg *config.Config, log *zap.Logger) *ProfileService {
	return &ProfileService{users: users, stats: stats, cache: cache, cfg: cfg, log: log}
}

func (s *ProfileService) GetProfile(ctx context.Context, wallet string) (*Profile, error) {
	if data, ok, err := s.cache.Get(ctx, wallet); err != nil {
		s.log.Warn("profile cache read failed", zap.String("wallet", wallet), zap.Error(err))
	} else if ok {
		var p Profile
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
	}

	user, err := s.users.GetByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, apperr.New(apperr.KindNotFound, "user not found")
	}
	totals, err := s.stats.CreatorTotals(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("load creator totals: %w", err)
	}

	p := &Profile{User: user, IsAdmin: s.cfg.IsAdmin(wallet), Creator: totals}
	if data, err := json.Marshal(p); err == nil {
		if err := s.cache.Set(ctx, wallet, data); err != nil {
			s.log.Warn("profile cache write failed", zap.String("wallet", wallet), zap.Error(err))
		}
	}
	return p, nil
}

func (s *ProfileService) Touch(ctx context.Context, userID uuid.UUID) {
	if err := s.users.UpdateLastActive(ctx, userID); err != nil {
		s.log.Error("failed to update last_active", zap.String("user_id", userID.String()), zap.Error(err))
	}
}
