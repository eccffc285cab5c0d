package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/streampay/backend/internal/apperr"
	"github.com/streampay/backend/internal/auth"
	"github.com/streampay/backend/internal/chain"
	"github.com/streampay/backend/internal/config"
	"github.com/streampay/backend/internal/models"
)

// AuthService signs wallets in with a consume-once challenge.
type AuthService struct {
	challenges ChallengeStore
	users      UserStore
	auditRepo  AuditLogger
	cfg        *config.Config
	log        *zap.Logger
}

func NewAuthService(
	challenges ChallengeStore,
	users UserStore,
	auditRepo AuditLogger,
	cfg *config.Config,
	log *zap.Logger,
) *AuthService {
	return &AuthService{
		challenges: challenges,
		users:      users,
		auditRepo:  auditRepo,
		cfg:        cfg,
		log:        log,
	}
}

type AuthResult struct {
	Token   string       `json:"token"`
	User    *models.User `json:"user"`
	IsAdmin bool         `json:"is_admin"`
}

func (s *AuthService) IssueChallenge(ctx context.Context, wallet string) (*models.AuthChallenge, error) {
	if !chain.ValidAddress(wallet) {
		return nil, apperr.New(apperr.KindValidation, "invalid wallet address")
	}
	c, err := s.challenges.Create(ctx, wallet, s.cfg.AuthMessagePrefix, s.cfg.AuthChallengeTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}
	return c, nil
}

// Verify consumes the nonce, then checks the signature over the stored
// message. A nonce is burned even if the signature is wrong.
func (s *AuthService) Verify(ctx context.Context, wallet, nonce, signature string) (*AuthResult, error) {
	if wallet == "" || nonce == "" || signature == "" {
		return nil, apperr.New(apperr.KindValidation, "wallet, nonce and signature are required")
	}

	c, err := s.challenges.Consume(ctx, wallet, nonce)
	if err != nil {
		return nil, fmt.Errorf("consume challenge: %w", err)
	}
	if c == nil {
		return nil, apperr.New(apperr.KindUnauthorized, "challenge is unknown, expired or already used")
	}

	if err := auth.VerifyWalletSignature(wallet, c.Message, signature); err != nil {
		s.log.Info("wallet sign-in rejected", zap.String("wallet", wallet), zap.Error(err))
		return nil, apperr.Wrap(apperr.KindUnauthorized, err, "signature verification failed")
	}

	user, err := s.users.GetOrCreateByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	token, err := auth.GenerateJWT(s.cfg.JWTSecret, user.ID, wallet, s.cfg.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorWallet: strPtr(wallet),
		ActorType:   "user",
		Action:      "wallet_signed_in",
		EntityType:  "user",
		EntityID:    &user.ID,
	})

	return &AuthResult{Token: token, User: user, IsAdmin: s.cfg.IsAdmin(wallet)}, nil
}
