package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Video struct {
	ID            uuid.UUID       `json:"id"`
	Title         string          `json:"title"`
	CreatorWallet string          `json:"creator_wallet"`
	PriceUSDC     decimal.Decimal `json:"price_usdc"`
	Views         int64           `json:"views"`
	TotalEarnings decimal.Decimal `json:"total_earnings"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
