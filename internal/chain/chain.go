// Package chain is the on-chain side of delegated session payments: token
// balance reads, approval transactions for the user to sign, and delegated
// transfers signed by the session key with the facilitator paying fees.
package chain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Programs a facilitator-paid settlement may invoke.
const (
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetProgramID   = "ComputeBudget111111111111111111111111111111"
)

type Keypair struct {
	PublicKey  string
	PrivateKey []byte
}

type TransferLeg struct {
	To     string
	Amount decimal.Decimal
}

// SplitTransfer moves tokens out of Owner's token account using the
// delegate authority. Zero-amount legs are skipped.
type SplitTransfer struct {
	Owner    string
	Delegate Keypair
	Legs     []TransferLeg
}

// UnsignedTx is a serialized transaction awaiting the user's signature.
type UnsignedTx struct {
	Transaction          string `json:"transaction"` // base64
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

// TxSummary describes a client-signed transaction without submitting it.
type TxSummary struct {
	Signature   string
	MessageHash string // hex sha256 of the serialized message
	FeePayer    string
	Programs    []string
}

type Client interface {
	GenerateDelegate() (Keypair, error)
	FacilitatorAddress() string
	TokenBalance(ctx context.Context, owner string) (decimal.Decimal, error)
	BuildApprovalTx(ctx context.Context, owner, delegate string, amount decimal.Decimal) (*UnsignedTx, error)
	BuildRevokeTx(ctx context.Context, owner string) (*UnsignedTx, error)
	// SendSigned broadcasts a fully signed transaction without waiting.
	SendSigned(ctx context.Context, signedTx string) (string, error)
	// Confirm waits, bounded, until the signature is confirmed or fails.
	Confirm(ctx context.Context, signature string) error
	// TransferSplit builds, signs, submits and confirms a delegated transfer.
	// On a confirmation failure the signature is still returned.
	TransferSplit(ctx context.Context, t SplitTransfer) (string, error)
	DecodeTransaction(signedTx string) (*TxSummary, error)
	// CoSignAndSend adds the facilitator fee-payer signature, submits and confirms.
	CoSignAndSend(ctx context.Context, signedTx string) (string, error)
}
