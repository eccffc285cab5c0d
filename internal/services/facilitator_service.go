package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/streampay/backend/internal/apperr"
	"github.com/streampay/backend/internal/chain"
	"github.com/streampay/backend/internal/models"
)

var settlementPrograms = map[string]bool{
	chain.TokenProgramID:           true,
	chain.AssociatedTokenProgramID: true,
	chain.ComputeBudgetProgramID:   true,
}

// FacilitatorService verifies and settles client-built token transfers
// where the facilitator pays the network fee.
type FacilitatorService struct {
	chain     chain.Client
	settled   SettlementLedger
	auditRepo AuditLogger
	log       *zap.Logger
}

func NewFacilitatorService(chainClient chain.Client, settled SettlementLedger, auditRepo AuditLogger, log *zap.Logger) *FacilitatorService {
	return &FacilitatorService{chain: chainClient, settled: settled, auditRepo: auditRepo, log: log}
}

type VerifyResult struct {
	Valid       bool   `json:"is_valid"`
	Reason      string `json:"invalid_reason,omitempty"`
	FeePayer    string `json:"fee_payer"`
	MessageHash string `json:"message_hash"`
}

type SettleResult struct {
	Signature      string `json:"transaction"`
	AlreadySettled bool   `json:"already_settled"`
}

func (s *FacilitatorService) Verify(_ context.Context, signedTx string) (*VerifyResult, error) {
	if signedTx == "" {
		return nil, apperr.New(apperr.KindValidation, "transaction is required")
	}
	summary, err := s.chain.DecodeTransaction(signedTx)
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{Valid: true, FeePayer: summary.FeePayer, MessageHash: summary.MessageHash}
	if summary.FeePayer != s.chain.FacilitatorAddress() {
		res.Valid, res.Reason = false, "fee payer is not the facilitator"
		return res, nil
	}
	if len(summary.Programs) == 0 {
		res.Valid, res.Reason = false, "transaction has no instructions"
		return res, nil
	}
	for _, p := range summary.Programs {
		if !settlementPrograms[p] {
			res.Valid, res.Reason = false, fmt.Sprintf("program %s is not allowed", p)
			return res, nil
		}
	}
	return res, nil
}

// Settle co-signs and submits a verified transaction once per message.
func (s *FacilitatorService) Settle(ctx context.Context, signedTx string) (*SettleResult, error) {
	v, err := s.Verify(ctx, signedTx)
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, apperr.New(apperr.KindValidation, v.Reason)
	}

	ok, prior, err := s.settled.Claim(ctx, v.MessageHash)
	if err != nil {
		return nil, fmt.Errorf("claim settlement: %w", err)
	}
	if !ok {
		if prior != "" {
			return &SettleResult{Signature: prior, AlreadySettled: true}, nil
		}
		return nil, apperr.New(apperr.KindConflict, "settlement already in progress")
	}

	sig, err := s.chain.CoSignAndSend(ctx, signedTx)
	if err != nil {
		if sig == "" {
			_ = s.settled.Release(ctx, v.MessageHash)
		} else {
			// submitted: keep the claim so a retry cannot double-submit
			_ = s.settled.Complete(ctx, v.MessageHash, sig)
		}
		s.log.Warn("settlement failed", zap.String("message_hash", v.MessageHash), zap.String("signature", sig), zap.Error(err))
		return nil, chain.ToAppError(err, "settlement failed")
	}

	if err := s.settled.Complete(ctx, v.MessageHash, sig); err != nil {
		s.log.Warn("failed to record settlement", zap.String("signature", sig), zap.Error(err))
	}
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "facilitator_settled",
		EntityType: "transaction",
		Meta:       map[string]any{"signature": sig, "message_hash": v.MessageHash},
	})

	s.log.Info("facilitator settlement confirmed", zap.String("signature", sig))
	return &SettleResult{Signature: sig}, nil
}
