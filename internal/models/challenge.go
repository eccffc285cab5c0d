package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthChallenge is a single-use sign-in nonce for a wallet.
type AuthChallenge struct {
	ID            uuid.UUID `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	Nonce         string    `json:"nonce"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"-"`
	ExpiresAt     time.Time `json:"expires_at"`
	Used          bool      `json:"-"`
}
