package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusVerified = "verified"
	PaymentStatusFailed   = "failed"
)

// PermanentAccessExpiry marks a purchase that never expires.
var PermanentAccessExpiry = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Payment is one settled unlock. Amount == CreatorAmount + PlatformAmount.
type Payment struct {
	ID                   uuid.UUID       `json:"id"`
	VideoID              uuid.UUID       `json:"video_id"`
	UserID               uuid.UUID       `json:"user_id"`
	UserWallet           string          `json:"user_wallet"`
	CreatorWallet        string          `json:"creator_wallet"`
	SessionID            *uuid.UUID      `json:"session_id,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	CreatorAmount        decimal.Decimal `json:"creator_amount"`
	PlatformAmount       decimal.Decimal `json:"platform_amount"`
	TransactionSignature string          `json:"transaction_signature"`
	Status               string          `json:"status"`
	VerifiedAt           *time.Time      `json:"verified_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

type VideoAccess struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	VideoID   uuid.UUID `json:"video_id"`
	PaymentID uuid.UUID `json:"payment_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Delta is an analytics increment.
type Delta struct {
	Views   int64           `json:"views"`
	Revenue decimal.Decimal `json:"revenue"`
}
