package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/streampay/backend/internal/models"
)

type VideoRepo struct {
	pool *pgxpool.Pool
}

func NewVideoRepo(pool *pgxpool.Pool) *VideoRepo {
	return &VideoRepo{pool: pool}
}

func (r *VideoRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	var v models.Video
	var a amounts
	err := r.pool.QueryRow(ctx, `
		SELECT id, title, creator_wallet, price_usdc::text, views, total_earnings::text, created_at, updated_at
		FROM videos WHERE id = $1
	`, id).Scan(&v.ID, &v.Title, &v.CreatorWallet, a.col(&v.PriceUSDC), &v.Views, a.col(&v.TotalEarnings), &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := a.parse(); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *VideoRepo) IncrementViews(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE videos SET views = views + 1, updated_at = now() WHERE id = $1`, id)
	return err
}

// AddEarnings increments the total in place.
func (r *VideoRepo) AddEarnings(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE videos SET total_earnings = total_earnings + $2::numeric, updated_at = now() WHERE id = $1
	`, id, delta.String())
	return err
}
