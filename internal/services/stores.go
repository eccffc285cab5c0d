package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/models"
)

// Persistence capabilities used by the services. The pgx repositories in
// internal/repositories implement them.

type SessionStore interface {
	GetActiveByWallet(ctx context.Context, wallet string) (*models.Session, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	Insert(ctx context.Context, s *models.Session) error
	ApplyTopUp(ctx context.Context, id uuid.UUID, deposit decimal.Decimal, approvalSig string, expiresAt time.Time) (*models.Session, error)
	UpdateBalances(ctx context.Context, id uuid.UUID, approved, remaining, expectedSpent decimal.Decimal) (*models.Session, error)
	UpdateSpending(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Session, error)
	MarkRevoked(ctx context.Context, id uuid.UUID) (bool, error)
	MarkExpired(ctx context.Context, ids []uuid.UUID) (int64, error)
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]models.Session, error)
	ListActive(ctx context.Context) ([]models.Session, error)
}

type PaymentStore interface {
	GetVerified(ctx context.Context, userID, videoID uuid.UUID) (*models.Payment, error)
	RecordVerified(ctx context.Context, p *models.Payment, accessExpiry time.Time) error
	ListByWallet(ctx context.Context, wallet string, limit, offset int) ([]models.Payment, error)
	HasAccess(ctx context.Context, userID, videoID uuid.UUID) (bool, error)
}

type VideoRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error)
	IncrementViews(ctx context.Context, id uuid.UUID) error
	AddEarnings(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error
}

type UserStore interface {
	GetOrCreateByWallet(ctx context.Context, wallet string) (*models.User, error)
	GetByWallet(ctx context.Context, wallet string) (*models.User, error)
}

// AnalyticsSink failures never abort a payment.
type AnalyticsSink interface {
	RecordVideoDelta(ctx context.Context, videoID uuid.UUID, d models.Delta) error
	RecordCreatorDelta(ctx context.Context, creatorWallet string, d models.Delta) error
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

type ProfileInvalidator interface {
	Invalidate(ctx context.Context, wallet string) error
}

type ChallengeStore interface {
	Create(ctx context.Context, wallet, prefix string, ttl time.Duration) (*models.AuthChallenge, error)
	Consume(ctx context.Context, wallet, nonce string) (*models.AuthChallenge, error)
}

type SettlementLedger interface {
	Claim(ctx context.Context, key string) (ok bool, signature string, err error)
	Complete(ctx context.Context, key, signature string) error
	Release(ctx context.Context, key string) error
}

func strPtr(s string) *string { return &s }
