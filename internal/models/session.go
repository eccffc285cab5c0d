package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/streampay/backend/internal/money"
)

// Session statuses
const (
	SessionStatusActive  = "active"
	SessionStatusRevoked = "revoked"
	SessionStatusExpired = "expired"
)

// Valid status transitions: from -> []to. Revoked and expired are terminal;
// a new deposit after either starts a fresh session id.
var ValidSessionTransitions = map[string][]string{
	SessionStatusActive:  {SessionStatusRevoked, SessionStatusExpired},
	SessionStatusRevoked: {},
	SessionStatusExpired: {},
}

func IsValidSessionTransition(from, to string) bool {
	allowed, ok := ValidSessionTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Session is a wallet's delegated spending allowance. At rest
// RemainingAmount == ApprovedAmount - SpentAmount.
type Session struct {
	ID                   uuid.UUID       `json:"id"`
	UserWallet           string          `json:"user_wallet"`
	DelegatePublicKey    string          `json:"delegate_public_key"`
	DelegateKeyEncrypted string          `json:"-"`
	ApprovedAmount       decimal.Decimal `json:"approved_amount"`
	SpentAmount          decimal.Decimal `json:"spent_amount"`
	RemainingAmount      decimal.Decimal `json:"remaining_amount"`
	ApprovalSignature    *string         `json:"approval_signature,omitempty"`
	Status               string          `json:"status"`
	ExpiresAt            time.Time       `json:"expires_at"`
	RevokedAt            *time.Time      `json:"revoked_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// IsExpired reports whether the session is past its expiry, regardless of status.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Usable reports whether new spends may be authorized against the session.
func (s *Session) Usable(now time.Time) bool {
	return s.Status == SessionStatusActive && !s.IsExpired(now)
}

// RecomputedRemaining derives the remaining balance from approved and spent.
func (s *Session) RecomputedRemaining() decimal.Decimal {
	return money.RoundCents(s.ApprovedAmount.Sub(s.SpentAmount))
}

// PendingSession is the server half of the prepare/confirm handshake. It
// lives only in the pending store, never in the database.
type PendingSession struct {
	ID                   uuid.UUID       `json:"id"`
	UserWallet           string          `json:"user_wallet"`
	DelegatePublicKey    string          `json:"delegate_public_key"`
	DelegateKeyEncrypted string          `json:"delegate_key_encrypted"`
	DepositAmount        decimal.Decimal `json:"deposit_amount"`
	TotalApproval        decimal.Decimal `json:"total_approval"`
	IsTopUp              bool            `json:"is_top_up"`
	ExistingSessionID    *uuid.UUID      `json:"existing_session_id,omitempty"`
	ExistingSession      *Session        `json:"existing_session,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// SessionBalance is the read view returned to the owning wallet.
type SessionBalance struct {
	SessionID         uuid.UUID       `json:"session_id"`
	DelegatePublicKey string          `json:"delegate_public_key"`
	ApprovedAmount    decimal.Decimal `json:"approved_amount"`
	SpentAmount       decimal.Decimal `json:"spent_amount"`
	RemainingAmount   decimal.Decimal `json:"remaining_amount"`
	Status            string          `json:"status"`
	ExpiresAt         time.Time       `json:"expires_at"`
	Usable            bool            `json:"usable"`
	ExpiresInSeconds  int64           `json:"expires_in_seconds"`
}
