package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streampay/backend/internal/db"
	"github.com/streampay/backend/internal/models"
)

// ErrDuplicatePayment means a verified payment for the same user and video
// already exists.
var ErrDuplicatePayment = errors.New("verified payment already exists for user and video")

const paymentColumns = `
	id, video_id, user_id, user_wallet, creator_wallet, session_id,
	amount::text, creator_amount::text, platform_amount::text,
	transaction_signature, status, verified_at, created_at`

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	var a amounts
	err := row.Scan(
		&p.ID, &p.VideoID, &p.UserID, &p.UserWallet, &p.CreatorWallet, &p.SessionID,
		a.col(&p.Amount), a.col(&p.CreatorAmount), a.col(&p.PlatformAmount),
		&p.TransactionSignature, &p.Status, &p.VerifiedAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := a.parse(); err != nil {
		return nil, fmt.Errorf("payment %s: %w", p.ID, err)
	}
	return &p, nil
}

func (r *PaymentRepo) GetVerified(ctx context.Context, userID, videoID uuid.UUID) (*models.Payment, error) {
	return optional(scanPayment(r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments WHERE user_id = $1 AND video_id = $2 AND status = 'verified'
	`, userID, videoID)))
}

// RecordVerified inserts a verified payment and its access grant in one
// transaction. The partial unique index on (user_id, video_id) rejects a
// second verified payment with ErrDuplicatePayment.
func (r *PaymentRepo) RecordVerified(ctx context.Context, p *models.Payment, accessExpiry time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO payments (
			video_id, user_id, user_wallet, creator_wallet, session_id,
			amount, creator_amount, platform_amount,
			transaction_signature, status, verified_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, 'verified', $10)
		RETURNING id, status, created_at
	`, p.VideoID, p.UserID, p.UserWallet, p.CreatorWallet, p.SessionID,
		p.Amount.String(), p.CreatorAmount.String(), p.PlatformAmount.String(),
		p.TransactionSignature, p.VerifiedAt,
	).Scan(&p.ID, &p.Status, &p.CreatedAt)
	if db.IsUniqueViolation(err, "payments_user_video_verified") {
		return ErrDuplicatePayment
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO video_access (user_id, video_id, payment_id, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, video_id) DO UPDATE SET
			payment_id = EXCLUDED.payment_id,
			expires_at = EXCLUDED.expires_at
	`, p.UserID, p.VideoID, p.ID, accessExpiry)
	if err != nil {
		return fmt.Errorf("grant access: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PaymentRepo) ListByWallet(ctx context.Context, wallet string, limit, offset int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments WHERE user_wallet = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, wallet, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PaymentRepo) HasAccess(ctx context.Context, userID, videoID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM video_access
			WHERE user_id = $1 AND video_id = $2 AND expires_at > now()
		)
	`, userID, videoID).Scan(&ok)
	return ok, err
}
