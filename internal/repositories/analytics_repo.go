package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streampay/backend/internal/models"
)

// AnalyticsRepo keeps daily per-video and per-creator counters.
type AnalyticsRepo struct {
	pool *pgxpool.Pool
}

func NewAnalyticsRepo(pool *pgxpool.Pool) *AnalyticsRepo {
	return &AnalyticsRepo{pool: pool}
}

func (r *AnalyticsRepo) RecordVideoDelta(ctx context.Context, videoID uuid.UUID, d models.Delta) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO video_analytics_daily (video_id, day, views, revenue)
		VALUES ($1, current_date, $2, $3::numeric)
		ON CONFLICT (video_id, day) DO UPDATE SET
			views = video_analytics_daily.views + EXCLUDED.views,
			revenue = video_analytics_daily.revenue + EXCLUDED.revenue
	`, videoID, d.Views, d.Revenue.String())
	return err
}

func (r *AnalyticsRepo) RecordCreatorDelta(ctx context.Context, creatorWallet string, d models.Delta) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO creator_analytics_daily (creator_wallet, day, views, revenue)
		VALUES ($1, current_date, $2, $3::numeric)
		ON CONFLICT (creator_wallet, day) DO UPDATE SET
			views = creator_analytics_daily.views + EXCLUDED.views,
			revenue = creator_analytics_daily.revenue + EXCLUDED.revenue
	`, creatorWallet, d.Views, d.Revenue.String())
	return err
}

// CreatorTotals sums a creator's counters over all days.
func (r *AnalyticsRepo) CreatorTotals(ctx context.Context, creatorWallet string) (models.Delta, error) {
	var d models.Delta
	var a amounts
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(views), 0), COALESCE(SUM(revenue), 0)::text
		FROM creator_analytics_daily WHERE creator_wallet = $1
	`, creatorWallet).Scan(&d.Views, a.col(&d.Revenue))
	if err != nil {
		return d, err
	}
	return d, a.parse()
}
