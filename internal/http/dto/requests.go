package dto

import "github.com/shopspring/decimal"

type ChallengeRequest struct {
	Wallet string `json:"wallet"`
}

type VerifyRequest struct {
	Wallet    string `json:"wallet"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

type PrepareSessionRequest struct {
	DepositAmount decimal.Decimal `json:"deposit_amount"`
}

// ConfirmSessionRequest carries exactly one of SignedTransaction or Signature.
type ConfirmSessionRequest struct {
	SessionID         string `json:"session_id"`
	SignedTransaction string `json:"signed_transaction,omitempty"`
	Signature         string `json:"signature,omitempty"`
}

// WithdrawRequest with no amount withdraws everything.
type WithdrawRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type FacilitatorRequest struct {
	Transaction string `json:"transaction"`
}
