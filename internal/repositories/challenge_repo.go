package repositories

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streampay/backend/internal/models"
)

type ChallengeRepo struct {
	pool *pgxpool.Pool
}

func NewChallengeRepo(pool *pgxpool.Pool) *ChallengeRepo {
	return &ChallengeRepo{pool: pool}
}

// Create stores a fresh sign-in nonce. The message the wallet signs is
// prefix + wallet + nonce + expiry.
func (r *ChallengeRepo) Create(ctx context.Context, wallet, prefix string, ttl time.Duration) (*models.AuthChallenge, error) {
	c := &models.AuthChallenge{
		WalletAddress: wallet,
		Nonce:         generateNonce(16),
		ExpiresAt:     time.Now().Add(ttl).UTC().Truncate(time.Second),
	}
	c.Message = fmt.Sprintf("%s\n\nWallet: %s\nNonce: %s\nExpires: %s",
		prefix, wallet, c.Nonce, c.ExpiresAt.Format(time.RFC3339))

	err := r.pool.QueryRow(ctx, `
		INSERT INTO auth_challenges (wallet_address, nonce, message, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, c.WalletAddress, c.Nonce, c.Message, c.ExpiresAt).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Consume marks the nonce used and returns it, or nil when it is unknown,
// expired, already used or issued to another wallet.
func (r *ChallengeRepo) Consume(ctx context.Context, wallet, nonce string) (*models.AuthChallenge, error) {
	var c models.AuthChallenge
	err := r.pool.QueryRow(ctx, `
		UPDATE auth_challenges
		SET used = true
		WHERE nonce = $1 AND wallet_address = $2 AND used = false AND expires_at > now()
		RETURNING id, wallet_address, nonce, message, created_at, expires_at, used
	`, nonce, wallet).Scan(&c.ID, &c.WalletAddress, &c.Nonce, &c.Message, &c.CreatedAt, &c.ExpiresAt, &c.Used)
	return optional(&c, err)
}

func (r *ChallengeRepo) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM auth_challenges WHERE expires_at < now() - interval '1 day'`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func generateNonce(bytes int) string {
	b := make([]byte, bytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
