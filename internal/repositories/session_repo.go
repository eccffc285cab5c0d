package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/apperr"
	"github.com/streampay/backend/internal/db"
	"github.com/streampay/backend/internal/models"
)

const sessionColumns = `
	id, user_wallet, delegate_public_key, delegate_key_encrypted,
	approved_amount::text, spent_amount::text, remaining_amount::text,
	approval_signature, status, expires_at, revoked_at, created_at, updated_at`

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	var a amounts
	err := row.Scan(
		&s.ID, &s.UserWallet, &s.DelegatePublicKey, &s.DelegateKeyEncrypted,
		a.col(&s.ApprovedAmount), a.col(&s.SpentAmount), a.col(&s.RemainingAmount),
		&s.ApprovalSignature, &s.Status, &s.ExpiresAt, &s.RevokedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := a.parse(); err != nil {
		return nil, fmt.Errorf("session %s: %w", s.ID, err)
	}
	return &s, nil
}

func collectSessions(rows pgx.Rows) ([]models.Session, error) {
	defer rows.Close()
	var out []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// GetActiveByWallet returns the wallet's active session, or nil. An active
// session past its expiry is still returned.
func (r *SessionRepo) GetActiveByWallet(ctx context.Context, wallet string) (*models.Session, error) {
	return optional(scanSession(r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE user_wallet = $1 AND status = 'active'
	`, wallet)))
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return optional(scanSession(r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1
	`, id)))
}

func (r *SessionRepo) Insert(ctx context.Context, s *models.Session) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO sessions (
			id, user_wallet, delegate_public_key, delegate_key_encrypted,
			approved_amount, spent_amount, remaining_amount,
			approval_signature, status, expires_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10)
		RETURNING created_at, updated_at
	`, s.ID, s.UserWallet, s.DelegatePublicKey, s.DelegateKeyEncrypted,
		s.ApprovedAmount.String(), s.SpentAmount.String(), s.RemainingAmount.String(),
		s.ApprovalSignature, s.Status, s.ExpiresAt,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if db.IsUniqueViolation(err, "sessions_one_active_per_wallet") {
		return apperr.New(apperr.KindConflict, "wallet already has an active session")
	}
	return err
}

// ApplyTopUp adds a confirmed deposit to an active session and refreshes
// its expiry.
func (r *SessionRepo) ApplyTopUp(ctx context.Context, id uuid.UUID, deposit decimal.Decimal, approvalSig string, expiresAt time.Time) (*models.Session, error) {
	s, err := optional(scanSession(r.pool.QueryRow(ctx, `
		UPDATE sessions SET
			approved_amount = approved_amount + $2::numeric,
			remaining_amount = remaining_amount + $2::numeric,
			approval_signature = $3,
			expires_at = $4,
			updated_at = now()
		WHERE id = $1 AND status = 'active'
		RETURNING `+sessionColumns,
		id, deposit.String(), approvalSig, expiresAt)))
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperr.New(apperr.KindNoActiveSession, "session is no longer active").WithReason(apperr.ReasonSession)
	}
	return s, nil
}

// UpdateBalances overwrites approved and remaining amounts. expectedSpent
// guards against a spend landing between read and write.
func (r *SessionRepo) UpdateBalances(ctx context.Context, id uuid.UUID, approved, remaining, expectedSpent decimal.Decimal) (*models.Session, error) {
	s, err := optional(scanSession(r.pool.QueryRow(ctx, `
		UPDATE sessions SET
			approved_amount = $2::numeric,
			remaining_amount = $3::numeric,
			updated_at = now()
		WHERE id = $1 AND status = 'active' AND spent_amount = $4::numeric
		RETURNING `+sessionColumns,
		id, approved.String(), remaining.String(), expectedSpent.String())))
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperr.New(apperr.KindConflict, "session changed during update, retry")
	}
	return s, nil
}

// UpdateSpending records a confirmed spend. The decrement only applies when
// the remaining balance covers it, so concurrent spends cannot overdraw.
func (r *SessionRepo) UpdateSpending(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Session, error) {
	s, err := optional(scanSession(r.pool.QueryRow(ctx, `
		UPDATE sessions SET
			spent_amount = spent_amount + $2::numeric,
			remaining_amount = remaining_amount - $2::numeric,
			updated_at = now()
		WHERE id = $1 AND remaining_amount >= $2::numeric
		RETURNING `+sessionColumns,
		id, amount.String())))
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperr.New(apperr.KindInsufficientSessionBalance, "session balance does not cover spend").
			WithDetail("session_id", id.String())
	}
	return s, nil
}

func (r *SessionRepo) MarkRevoked(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET status = 'revoked', revoked_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'active'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkExpired flips the given active sessions to expired and returns the
// number changed. Sessions no longer active are skipped.
func (r *SessionRepo) MarkExpired(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET status = 'expired', updated_at = now()
		WHERE id = ANY($1) AND status = 'active'
	`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepo) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE status = 'active' AND expires_at < $1
		ORDER BY expires_at LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *SessionRepo) ListActive(ctx context.Context) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE status = 'active' ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}
