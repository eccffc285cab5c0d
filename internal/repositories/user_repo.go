package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streampay/backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// GetOrCreateByWallet provisions a viewer on first contact.
func (r *UserRepo) GetOrCreateByWallet(ctx context.Context, wallet string) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (wallet_address)
		VALUES ($1)
		ON CONFLICT (wallet_address) DO UPDATE SET last_active_at = now()
		RETURNING id, wallet_address, created_at, last_active_at
	`, wallet).Scan(&u.ID, &u.WalletAddress, &u.CreatedAt, &u.LastActiveAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetByWallet(ctx context.Context, wallet string) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, wallet_address, created_at, last_active_at
		FROM users WHERE wallet_address = $1
	`, wallet).Scan(&u.ID, &u.WalletAddress, &u.CreatedAt, &u.LastActiveAt)
	return optional(&u, err)
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, wallet_address, created_at, last_active_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.WalletAddress, &u.CreatedAt, &u.LastActiveAt)
	return optional(&u, err)
}

func (r *UserRepo) UpdateLastActive(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_active_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}
