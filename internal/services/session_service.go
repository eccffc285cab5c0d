package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/apperr"
	"github.com/streampay/backend/internal/chain"
	"github.com/streampay/backend/internal/config"
	"github.com/streampay/backend/internal/events"
	"github.com/streampay/backend/internal/lock"
	"github.com/streampay/backend/internal/models"
	"github.com/streampay/backend/internal/money"
	"github.com/streampay/backend/internal/pending"
	"github.com/streampay/backend/internal/vault"
)

const expireBatchSize = 500

// SessionService owns the session lifecycle: deposit and top-up through a
// prepare/confirm handshake, spend authorization and bookkeeping, withdraw
// and expiry.
type SessionService struct {
	sessions  SessionStore
	pending   pending.Store
	chain     chain.Client
	vault     *vault.Vault
	locker    lock.Locker
	auditRepo AuditLogger
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
	now       func() time.Time
}

func NewSessionService(
	sessions SessionStore,
	pendingStore pending.Store,
	chainClient chain.Client,
	v *vault.Vault,
	locker lock.Locker,
	auditRepo AuditLogger,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *SessionService {
	return &SessionService{
		sessions:  sessions,
		pending:   pendingStore,
		chain:     chainClient,
		vault:     v,
		locker:    locker,
		auditRepo: auditRepo,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

type PreparedSession struct {
	SessionID            uuid.UUID       `json:"session_id"`
	Transaction          string          `json:"transaction"`
	Blockhash            string          `json:"blockhash"`
	LastValidBlockHeight uint64          `json:"last_valid_block_height"`
	DelegatePublicKey    string          `json:"delegate_public_key"`
	DepositAmount        decimal.Decimal `json:"deposit_amount"`
	TotalApproval        decimal.Decimal `json:"total_approval"`
	IsTopUp              bool            `json:"is_top_up"`
	ConfirmBefore        time.Time       `json:"confirm_before"`
}

// ConfirmInput carries exactly one of a signed, not yet broadcast
// transaction or the signature of one the wallet already sent.
type ConfirmInput struct {
	SignedTransaction string
	Signature         string
}

// SpendAuthorization is what a caller needs to execute a delegated transfer.
type SpendAuthorization struct {
	SessionID  uuid.UUID
	UserWallet string
	Delegate   chain.Keypair
	Remaining  decimal.Decimal
}

type WithdrawResult struct {
	WithdrawnAmount     decimal.Decimal   `json:"withdrawn_amount"`
	SessionClosed       bool              `json:"session_closed"`
	NewRemainingBalance *decimal.Decimal  `json:"new_remaining_balance,omitempty"`
	Transaction         *chain.UnsignedTx `json:"transaction,omitempty"`
}

type DriftEntry struct {
	SessionID  uuid.UUID       `json:"session_id"`
	UserWallet string          `json:"user_wallet"`
	Stored     decimal.Decimal `json:"stored_remaining"`
	Recomputed decimal.Decimal `json:"recomputed_remaining"`
}

// PrepareSession starts a deposit or, when the wallet already has an active
// session, a top-up. It returns an approval transaction for the user to sign.
func (s *SessionService) PrepareSession(ctx context.Context, wallet string, deposit decimal.Decimal) (*PreparedSession, error) {
	if wallet == "" {
		return nil, apperr.New(apperr.KindValidation, "wallet is required")
	}
	deposit = money.RoundCents(deposit)
	if !deposit.IsPositive() {
		return nil, apperr.New(apperr.KindValidation, "deposit amount must be positive")
	}

	existing, err := s.sessions.GetActiveByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("load active session: %w", err)
	}
	if existing != nil && existing.IsExpired(s.now()) {
		// a lapsed session is terminal; the deposit starts a new one
		s.expire(ctx, []models.Session{*existing})
		existing = nil
	}

	p := &models.PendingSession{
		ID:            uuid.New(),
		UserWallet:    wallet,
		DepositAmount: deposit,
		CreatedAt:     s.now(),
	}

	if existing != nil {
		if _, err := s.vault.Decrypt(existing.DelegateKeyEncrypted); err != nil {
			s.log.Error("stored delegate key failed integrity check",
				zap.String("session_id", existing.ID.String()),
				zap.String("wallet", wallet),
				zap.Error(err),
			)
			return nil, err
		}
		p.DelegatePublicKey = existing.DelegatePublicKey
		p.DelegateKeyEncrypted = existing.DelegateKeyEncrypted
		p.TotalApproval = money.RoundCents(existing.RemainingAmount).Add(deposit)
		p.IsTopUp = true
		p.ExistingSessionID = &existing.ID
		p.ExistingSession = existing
	} else {
		kp, err := s.chain.GenerateDelegate()
		if err != nil {
			return nil, err
		}
		enc, err := s.vault.Encrypt(kp.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("encrypt delegate key: %w", err)
		}
		p.DelegatePublicKey = kp.PublicKey
		p.DelegateKeyEncrypted = enc
		p.TotalApproval = deposit
	}

	balance, err := s.chain.TokenBalance(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if deposit.GreaterThan(balance) {
		return nil, apperr.Newf(apperr.KindInsufficientBalance, "wallet balance %s is below deposit %s", balance, deposit).
			WithDetail("balance", balance.String()).
			WithDetail("requested", deposit.String())
	}
	if p.TotalApproval.GreaterThan(balance) {
		return nil, apperr.Newf(apperr.KindApprovalExceedsBalance, "total approval %s exceeds wallet balance %s", p.TotalApproval, balance).
			WithDetail("balance", balance.String()).
			WithDetail("total_approval", p.TotalApproval.String())
	}

	tx, err := s.chain.BuildApprovalTx(ctx, wallet, p.DelegatePublicKey, p.TotalApproval)
	if err != nil {
		return nil, chain.ToAppError(err, "failed to build approval transaction")
	}

	if err := s.pending.Put(ctx, p, s.cfg.PendingSessionTTL); err != nil {
		return nil, fmt.Errorf("stash pending session: %w", err)
	}

	s.log.Info("session prepared",
		zap.String("pending_id", p.ID.String()),
		zap.String("wallet", wallet),
		zap.Bool("top_up", p.IsTopUp),
		zap.String("deposit", deposit.String()),
		zap.String("total_approval", p.TotalApproval.String()),
	)

	return &PreparedSession{
		SessionID:            p.ID,
		Transaction:          tx.Transaction,
		Blockhash:            tx.Blockhash,
		LastValidBlockHeight: tx.LastValidBlockHeight,
		DelegatePublicKey:    p.DelegatePublicKey,
		DepositAmount:        deposit,
		TotalApproval:        p.TotalApproval,
		IsTopUp:              p.IsTopUp,
		ConfirmBefore:        p.CreatedAt.Add(s.cfg.PendingSessionTTL),
	}, nil
}

// ConfirmSession lands the user's approval and writes the session. The
// pending entry is taken up front, so a second confirm for the same id
// fails with not_found. Transient confirmation failures put it back so the
// caller can retry with the signature.
func (s *SessionService) ConfirmSession(ctx context.Context, wallet string, pendingID string, in ConfirmInput) (*models.Session, error) {
	if (in.SignedTransaction == "") == (in.Signature == "") {
		return nil, apperr.New(apperr.KindValidation, "provide either a signed transaction or a signature")
	}

	p, err := s.pending.Take(ctx, pendingID)
	if errors.Is(err, pending.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "pending session not found or expired, prepare again").
			WithReason(apperr.ReasonPendingSession)
	}
	if err != nil {
		return nil, err
	}
	if p.UserWallet != wallet {
		// not ours to confirm; leave it for its owner
		s.restorePending(ctx, p)
		return nil, apperr.New(apperr.KindNotFound, "pending session not found or expired, prepare again").
			WithReason(apperr.ReasonPendingSession)
	}

	signature := in.Signature
	if in.SignedTransaction != "" {
		signature, err = s.chain.SendSigned(ctx, in.SignedTransaction)
		if err != nil {
			return nil, s.confirmFailed(p, err)
		}
	}
	if err := s.chain.Confirm(ctx, signature); err != nil {
		if errors.Is(err, chain.ErrConfirmTimeout) || errors.Is(err, chain.ErrRPCUnavailable) {
			s.restorePending(ctx, p)
		}
		return nil, s.confirmFailed(p, err)
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.SessionTTL)

	var session *models.Session
	action := "session_created"
	if p.IsTopUp && p.ExistingSessionID != nil {
		session, err = s.sessions.ApplyTopUp(ctx, *p.ExistingSessionID, p.DepositAmount, signature, expiresAt)
		if apperr.KindOf(err) == apperr.KindNoActiveSession {
			// the session closed while the user was signing; the approval
			// still names the same delegate, so open a new session for the deposit
			s.log.Warn("topped-up session no longer active, opening a new one",
				zap.String("session_id", p.ExistingSessionID.String()),
				zap.String("wallet", wallet),
			)
			session, err = s.insertSession(ctx, p, p.DepositAmount, signature, expiresAt)
		} else {
			action = "session_topped_up"
		}
	} else {
		session, err = s.insertSession(ctx, p, p.TotalApproval, signature, expiresAt)
	}
	if err != nil {
		s.log.Error("approval confirmed on-chain but session write failed",
			zap.String("pending_id", p.ID.String()),
			zap.String("wallet", wallet),
			zap.String("signature", signature),
			zap.Error(err),
		)
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorWallet: strPtr(wallet),
		ActorType:   "user",
		Action:      action,
		EntityType:  "session",
		EntityID:    &session.ID,
		Meta: map[string]any{
			"deposit":   p.DepositAmount.String(),
			"approved":  session.ApprovedAmount.String(),
			"signature": signature,
		},
	})
	s.publish(ctx, session)

	s.log.Info("session confirmed",
		zap.String("session_id", session.ID.String()),
		zap.String("wallet", wallet),
		zap.String("action", action),
		zap.String("remaining", session.RemainingAmount.String()),
	)
	return session, nil
}

func (s *SessionService) insertSession(ctx context.Context, p *models.PendingSession, approved decimal.Decimal, signature string, expiresAt time.Time) (*models.Session, error) {
	id := p.ID
	if p.ExistingSessionID != nil {
		id = uuid.New()
	}
	session := &models.Session{
		ID:                   id,
		UserWallet:           p.UserWallet,
		DelegatePublicKey:    p.DelegatePublicKey,
		DelegateKeyEncrypted: p.DelegateKeyEncrypted,
		ApprovedAmount:       approved,
		SpentAmount:          decimal.Zero,
		RemainingAmount:      approved,
		ApprovalSignature:    &signature,
		Status:               models.SessionStatusActive,
		ExpiresAt:            expiresAt,
	}
	if err := s.sessions.Insert(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SessionService) restorePending(ctx context.Context, p *models.PendingSession) {
	left := p.CreatedAt.Add(s.cfg.PendingSessionTTL).Sub(s.now())
	if left <= 0 {
		return
	}
	if err := s.pending.Put(ctx, p, left); err != nil {
		s.log.Warn("failed to restore pending session", zap.String("pending_id", p.ID.String()), zap.Error(err))
	}
}

func (s *SessionService) confirmFailed(p *models.PendingSession, err error) error {
	err = chain.ToAppError(err, "approval transaction failed")
	s.log.Warn("session confirmation failed",
		zap.String("pending_id", p.ID.String()),
		zap.String("wallet", p.UserWallet),
		zap.String("reason", apperr.ReasonOf(err)),
		zap.Error(err),
	)
	return err
}

// GetActiveSession returns the wallet's active session record, or nil. A
// session past its expiry is still returned.
func (s *SessionService) GetActiveSession(ctx context.Context, wallet string) (*models.Session, error) {
	return s.sessions.GetActiveByWallet(ctx, wallet)
}

// SessionBalance returns nil when the wallet has no active session.
func (s *SessionService) SessionBalance(ctx context.Context, wallet string) (*models.SessionBalance, error) {
	session, err := s.sessions.GetActiveByWallet(ctx, wallet)
	if err != nil || session == nil {
		return nil, err
	}
	now := s.now()
	left := int64(session.ExpiresAt.Sub(now).Seconds())
	if left < 0 {
		left = 0
	}
	return &models.SessionBalance{
		SessionID:         session.ID,
		DelegatePublicKey: session.DelegatePublicKey,
		ApprovedAmount:    session.ApprovedAmount,
		SpentAmount:       session.SpentAmount,
		RemainingAmount:   session.RemainingAmount,
		Status:            session.Status,
		ExpiresAt:         session.ExpiresAt,
		Usable:            session.Usable(now),
		ExpiresInSeconds:  left,
	}, nil
}

// AuthorizeSpend checks that the wallet's session can cover amount. It does
// not mutate anything.
func (s *SessionService) AuthorizeSpend(ctx context.Context, wallet string, amount decimal.Decimal) (*SpendAuthorization, error) {
	amount = money.RoundCents(amount)

	session, err := s.sessions.GetActiveByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("load active session: %w", err)
	}
	if session == nil {
		return nil, apperr.New(apperr.KindNoActiveSession, "deposit required").
			WithDetail("required", amount.String())
	}
	if session.IsExpired(s.now()) {
		return nil, apperr.New(apperr.KindSessionExpired, "session expired, deposit required").
			WithDetail("required", amount.String()).
			WithDetail("expired_at", session.ExpiresAt)
	}
	remaining := money.RoundCents(session.RemainingAmount)
	if amount.GreaterThan(remaining) {
		return nil, apperr.New(apperr.KindInsufficientSessionBalance, "top-up required").
			WithDetail("required", amount.String()).
			WithDetail("remaining", remaining.String()).
			WithDetail("shortfall", amount.Sub(remaining).String())
	}

	raw, err := s.vault.Decrypt(session.DelegateKeyEncrypted)
	if err != nil {
		s.log.Error("stored delegate key failed integrity check",
			zap.String("session_id", session.ID.String()),
			zap.String("wallet", wallet),
			zap.Error(err),
		)
		return nil, err
	}

	return &SpendAuthorization{
		SessionID:  session.ID,
		UserWallet: wallet,
		Delegate:   chain.Keypair{PublicKey: session.DelegatePublicKey, PrivateKey: raw},
		Remaining:  remaining,
	}, nil
}

// RecordSpend books a spend whose transfer is already confirmed on-chain.
// Callers dedupe through payment idempotency; it must run once per spend.
func (s *SessionService) RecordSpend(ctx context.Context, sessionID uuid.UUID, amount decimal.Decimal) (*models.Session, error) {
	session, err := s.sessions.UpdateSpending(ctx, sessionID, money.RoundCents(amount))
	if err != nil {
		return nil, err
	}
	s.publish(ctx, session)
	return session, nil
}

// LockSpend serializes spends and withdrawals for one wallet.
func (s *SessionService) LockSpend(ctx context.Context, wallet string) (func(), error) {
	release, err := s.locker.Acquire(ctx, "spend:"+wallet, s.cfg.SpendLockTTL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConflict, err, "another payment for this wallet is in progress")
	}
	return release, nil
}

// Withdraw releases all (amount nil) or part of the remaining balance. The
// remaining balance is recomputed from approved minus spent; a mismatch with
// the stored value is logged as drift and the recomputed value wins.
func (s *SessionService) Withdraw(ctx context.Context, wallet string, amount *decimal.Decimal) (*WithdrawResult, error) {
	release, err := s.LockSpend(ctx, wallet)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := s.sessions.GetActiveByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("load active session: %w", err)
	}
	if session == nil {
		return nil, apperr.New(apperr.KindNoActiveSession, "no active session to withdraw from")
	}

	remaining := s.checkDrift(ctx, session)

	full := amount == nil
	var want decimal.Decimal
	if !full {
		want = money.RoundCents(*amount)
		switch {
		case !want.IsPositive():
			return nil, apperr.New(apperr.KindInvalidWithdrawAmount, "withdraw amount must be positive")
		case want.GreaterThan(remaining):
			return nil, apperr.Newf(apperr.KindInvalidWithdrawAmount, "withdraw amount %s exceeds remaining balance %s", want, remaining).
				WithDetail("remaining", remaining.String())
		case want.Equal(remaining):
			full = true
		}
	}

	if full {
		ok, err := s.sessions.MarkRevoked(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("revoke session: %w", err)
		}
		if !ok {
			return nil, apperr.New(apperr.KindConflict, "session changed state, retry")
		}
		session.Status = models.SessionStatusRevoked

		result := &WithdrawResult{WithdrawnAmount: remaining, SessionClosed: true}
		if tx, err := s.chain.BuildRevokeTx(ctx, wallet); err != nil {
			s.log.Warn("failed to build revoke transaction", zap.String("wallet", wallet), zap.Error(err))
		} else {
			result.Transaction = tx
		}

		s.auditWithdraw(ctx, session, remaining, true)
		s.publish(ctx, session)
		return result, nil
	}

	newApproved := money.RoundCents(session.ApprovedAmount.Sub(want))
	newRemaining := money.RoundCents(newApproved.Sub(session.SpentAmount))
	updated, err := s.sessions.UpdateBalances(ctx, session.ID, newApproved, newRemaining, session.SpentAmount)
	if err != nil {
		return nil, err
	}

	result := &WithdrawResult{
		WithdrawnAmount:     want,
		SessionClosed:       false,
		NewRemainingBalance: &newRemaining,
	}
	if tx, err := s.chain.BuildApprovalTx(ctx, wallet, session.DelegatePublicKey, newRemaining); err != nil {
		s.log.Warn("failed to build reduced approval transaction", zap.String("wallet", wallet), zap.Error(err))
	} else {
		result.Transaction = tx
	}

	s.auditWithdraw(ctx, updated, want, false)
	s.publish(ctx, updated)
	return result, nil
}

func (s *SessionService) auditWithdraw(ctx context.Context, session *models.Session, amount decimal.Decimal, closed bool) {
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorWallet: strPtr(session.UserWallet),
		ActorType:   "user",
		Action:      "session_withdrawn",
		EntityType:  "session",
		EntityID:    &session.ID,
		Meta:        map[string]any{"amount": amount.String(), "closed": closed},
	})
	s.log.Info("session withdrawal",
		zap.String("session_id", session.ID.String()),
		zap.String("wallet", session.UserWallet),
		zap.String("amount", amount.String()),
		zap.Bool("closed", closed),
	)
}

// checkDrift returns the authoritative remaining balance.
func (s *SessionService) checkDrift(ctx context.Context, session *models.Session) decimal.Decimal {
	recomputed := session.RecomputedRemaining()
	if money.WithinEpsilon(recomputed, session.RemainingAmount, s.cfg.LedgerDriftEpsilon) {
		return recomputed
	}

	err := apperr.New(apperr.KindLedgerDrift, "stored remaining amount disagrees with approved minus spent")
	s.log.Error("ledger drift detected",
		zap.String("session_id", session.ID.String()),
		zap.String("wallet", session.UserWallet),
		zap.String("approved", session.ApprovedAmount.String()),
		zap.String("spent", session.SpentAmount.String()),
		zap.String("stored_remaining", session.RemainingAmount.String()),
		zap.String("recomputed_remaining", recomputed.String()),
		zap.Error(err),
	)
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "ledger_drift",
		EntityType: "session",
		EntityID:   &session.ID,
		Meta: map[string]any{
			"stored":     session.RemainingAmount.String(),
			"recomputed": recomputed.String(),
		},
	})
	return recomputed
}

// ExpireStaleSessions marks active sessions past their expiry as expired.
func (s *SessionService) ExpireStaleSessions(ctx context.Context) (int, error) {
	total := 0
	for {
		stale, err := s.sessions.ListExpiredActive(ctx, s.now(), expireBatchSize)
		if err != nil {
			return total, fmt.Errorf("list expired sessions: %w", err)
		}
		if len(stale) == 0 {
			return total, nil
		}
		n, err := s.expire(ctx, stale)
		total += n
		if err != nil {
			return total, err
		}
		if len(stale) < expireBatchSize {
			return total, nil
		}
	}
}

func (s *SessionService) expire(ctx context.Context, stale []models.Session) (int, error) {
	ids := make([]uuid.UUID, len(stale))
	for i := range stale {
		ids[i] = stale[i].ID
	}
	n, err := s.sessions.MarkExpired(ctx, ids)
	if err != nil {
		s.log.Error("failed to expire sessions", zap.Int("count", len(ids)), zap.Error(err))
		return 0, fmt.Errorf("mark expired: %w", err)
	}

	for i := range stale {
		sess := &stale[i]
		sess.Status = models.SessionStatusExpired
		_ = s.auditRepo.Log(ctx, models.AuditLog{
			ActorType:  "system",
			Action:     "session_expired",
			EntityType: "session",
			EntityID:   &sess.ID,
			Meta:       map[string]any{"expires_at": sess.ExpiresAt, "remaining": sess.RemainingAmount.String()},
		})
		s.publish(ctx, sess)
	}
	if n > 0 {
		s.log.Info("sessions expired", zap.Int64("count", n))
	}
	return int(n), nil
}

// RevokeSession closes a wallet's active session on behalf of an operator.
func (s *SessionService) RevokeSession(ctx context.Context, wallet, actor string) (*models.Session, error) {
	release, err := s.LockSpend(ctx, wallet)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := s.sessions.GetActiveByWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperr.New(apperr.KindNoActiveSession, "wallet has no active session")
	}
	ok, err := s.sessions.MarkRevoked(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindConflict, "session changed state, retry")
	}
	session.Status = models.SessionStatusRevoked

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorWallet: strPtr(actor),
		ActorType:   "admin",
		Action:      "session_revoked",
		EntityType:  "session",
		EntityID:    &session.ID,
		Meta:        map[string]any{"wallet": wallet, "remaining": session.RemainingAmount.String()},
	})
	s.publish(ctx, session)

	s.log.Info("session revoked by operator",
		zap.String("session_id", session.ID.String()),
		zap.String("wallet", wallet),
		zap.String("actor", actor),
	)
	return session, nil
}

// DriftReport lists active sessions whose stored remaining amount is off.
func (s *SessionService) DriftReport(ctx context.Context) ([]DriftEntry, error) {
	active, err := s.sessions.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var out []DriftEntry
	for _, sess := range active {
		recomputed := sess.RecomputedRemaining()
		if !money.WithinEpsilon(recomputed, sess.RemainingAmount, s.cfg.LedgerDriftEpsilon) {
			out = append(out, DriftEntry{
				SessionID:  sess.ID,
				UserWallet: sess.UserWallet,
				Stored:     sess.RemainingAmount,
				Recomputed: recomputed,
			})
		}
	}
	return out, nil
}

func (s *SessionService) publish(ctx context.Context, session *models.Session) {
	_ = s.publisher.Publish(ctx, events.StreamSessions, events.Event{
		Type: events.EventSessionUpdated,
		Payload: map[string]any{
			"wallet":     session.UserWallet,
			"session_id": session.ID.String(),
			"status":     session.Status,
			"approved":   session.ApprovedAmount.String(),
			"spent":      session.SpentAmount.String(),
			"remaining":  session.RemainingAmount.String(),
			"expires_at": session.ExpiresAt,
		},
	})
}
