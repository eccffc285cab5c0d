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
	"github.com/streampay/backend/internal/models"
	"github.com/streampay/backend/internal/money"
	"github.com/streampay/backend/internal/repositories"
)

// PaymentService settles video unlocks against the viewer's session.
type PaymentService struct {
	sessions  *SessionService
	payments  PaymentStore
	videos    VideoRepository
	users     UserStore
	analytics AnalyticsSink
	profiles  ProfileInvalidator
	chain     chain.Client
	auditRepo AuditLogger
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
	now       func() time.Time
}

func NewPaymentService(
	sessions *SessionService,
	payments PaymentStore,
	videos VideoRepository,
	users UserStore,
	analytics AnalyticsSink,
	profiles ProfileInvalidator,
	chainClient chain.Client,
	auditRepo AuditLogger,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *PaymentService {
	return &PaymentService{
		sessions:  sessions,
		payments:  payments,
		videos:    videos,
		users:     users,
		analytics: analytics,
		profiles:  profiles,
		chain:     chainClient,
		auditRepo: auditRepo,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

type UnlockResult struct {
	AlreadyPaid      bool             `json:"already_paid"`
	PaymentID        uuid.UUID        `json:"payment_id"`
	Signature        string           `json:"signature"`
	Amount           decimal.Decimal  `json:"amount"`
	CreatorAmount    decimal.Decimal  `json:"creator_amount"`
	PlatformAmount   decimal.Decimal  `json:"platform_amount"`
	RemainingBalance *decimal.Decimal `json:"remaining_balance,omitempty"`
}

func alreadyPaid(p *models.Payment) *UnlockResult {
	return &UnlockResult{
		AlreadyPaid:    true,
		PaymentID:      p.ID,
		Signature:      p.TransactionSignature,
		Amount:         p.Amount,
		CreatorAmount:  p.CreatorAmount,
		PlatformAmount: p.PlatformAmount,
	}
}

// UnlockVideo pays for a video out of the viewer's session and grants
// permanent access. Repeating the call after success returns the existing
// payment without touching the chain.
//
// A transfer that confirms on-chain but fails to be recorded afterwards is
// not rolled back; the next unlock for the same pair finds the payment, or
// the logged signature is reconciled by an operator.
func (s *PaymentService) UnlockVideo(ctx context.Context, videoID, wallet string) (*UnlockResult, error) {
	if videoID == "" || wallet == "" {
		return nil, apperr.New(apperr.KindValidation, "video id and wallet are required")
	}
	vid, err := uuid.Parse(videoID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "invalid video id")
	}

	video, err := s.videos.GetByID(ctx, vid)
	if err != nil {
		return nil, fmt.Errorf("load video: %w", err)
	}
	if video == nil {
		return nil, apperr.New(apperr.KindNotFound, "video not found").WithReason(apperr.ReasonVideo)
	}
	if video.CreatorWallet == "" {
		return nil, apperr.New(apperr.KindValidation, "video has no creator wallet").WithReason(apperr.ReasonVideoConfig)
	}
	price := money.RoundCents(video.PriceUSDC)
	if !price.IsPositive() {
		return nil, apperr.New(apperr.KindValidation, "video has no price").WithReason(apperr.ReasonVideoConfig)
	}

	user, err := s.users.GetOrCreateByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	release, err := s.sessions.LockSpend(ctx, wallet)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.payments.GetVerified(ctx, user.ID, video.ID)
	if err != nil {
		return nil, fmt.Errorf("check existing payment: %w", err)
	}
	if existing != nil {
		s.log.Debug("video already paid",
			zap.String("video_id", video.ID.String()),
			zap.String("wallet", wallet),
		)
		return alreadyPaid(existing), nil
	}

	auth, err := s.sessions.AuthorizeSpend(ctx, wallet, price)
	if err != nil {
		if apperr.Action(err) != "" {
			s.log.Debug("unlock needs session funds",
				zap.String("wallet", wallet),
				zap.String("video_id", video.ID.String()),
				zap.String("action", apperr.Action(err)),
			)
		}
		return nil, err
	}

	creatorAmount, platformAmount := money.Split(price, s.cfg.PlatformFeeBPS)
	signature, err := s.chain.TransferSplit(ctx, chain.SplitTransfer{
		Owner:    wallet,
		Delegate: auth.Delegate,
		Legs: []chain.TransferLeg{
			{To: video.CreatorWallet, Amount: creatorAmount},
			{To: s.cfg.PlatformWallet, Amount: platformAmount},
		},
	})
	if err != nil {
		appErr := chain.ToAppError(err, "payment transfer failed")
		fields := []zap.Field{
			zap.String("wallet", wallet),
			zap.String("video_id", video.ID.String()),
			zap.String("reason", apperr.ReasonOf(appErr)),
			zap.Error(err),
		}
		if signature != "" {
			// submitted but unconfirmed: may still land
			s.log.Error("payment transfer unconfirmed", append(fields, zap.String("signature", signature))...)
			if ae, ok := appErr.(*apperr.Error); ok {
				ae.WithDetail("signature", signature)
			}
		} else {
			s.log.Warn("payment transfer failed", fields...)
		}
		return nil, appErr
	}

	var remaining *decimal.Decimal
	if session, err := s.sessions.RecordSpend(ctx, auth.SessionID, price); err != nil {
		s.log.Error("transfer confirmed but spend not recorded",
			zap.String("session_id", auth.SessionID.String()),
			zap.String("signature", signature),
			zap.String("amount", price.String()),
			zap.Error(apperr.Wrap(apperr.KindLedgerDrift, err, "record spend")),
		)
	} else {
		remaining = &session.RemainingAmount
	}

	verifiedAt := s.now()
	payment := &models.Payment{
		VideoID:              video.ID,
		UserID:               user.ID,
		UserWallet:           wallet,
		CreatorWallet:        video.CreatorWallet,
		SessionID:            &auth.SessionID,
		Amount:               price,
		CreatorAmount:        creatorAmount,
		PlatformAmount:       platformAmount,
		TransactionSignature: signature,
		Status:               models.PaymentStatusVerified,
		VerifiedAt:           &verifiedAt,
	}
	if err := s.payments.RecordVerified(ctx, payment, models.PermanentAccessExpiry); err != nil {
		if errors.Is(err, repositories.ErrDuplicatePayment) {
			s.log.Error("duplicate verified payment after transfer",
				zap.String("video_id", video.ID.String()),
				zap.String("wallet", wallet),
				zap.String("signature", signature),
			)
			if prior, perr := s.payments.GetVerified(ctx, user.ID, video.ID); perr == nil && prior != nil {
				return alreadyPaid(prior), nil
			}
		}
		s.log.Error("transfer confirmed but payment not recorded",
			zap.String("video_id", video.ID.String()),
			zap.String("wallet", wallet),
			zap.String("signature", signature),
			zap.Error(err),
		)
		return nil, apperr.Wrap(apperr.KindInternal, err, "payment settled but could not be recorded").
			WithDetail("signature", signature)
	}

	s.afterPayment(ctx, video, payment)

	s.log.Info("video unlocked",
		zap.String("payment_id", payment.ID.String()),
		zap.String("video_id", video.ID.String()),
		zap.String("wallet", wallet),
		zap.String("amount", price.String()),
		zap.String("signature", signature),
	)

	return &UnlockResult{
		PaymentID:        payment.ID,
		Signature:        signature,
		Amount:           price,
		CreatorAmount:    creatorAmount,
		PlatformAmount:   platformAmount,
		RemainingBalance: remaining,
	}, nil
}

// afterPayment runs the best-effort side effects of a recorded payment.
func (s *PaymentService) afterPayment(ctx context.Context, video *models.Video, p *models.Payment) {
	if err := s.videos.IncrementViews(ctx, video.ID); err != nil {
		s.log.Warn("failed to increment views", zap.String("video_id", video.ID.String()), zap.Error(err))
	}

	delta := models.Delta{Views: 1, Revenue: p.Amount}
	if err := s.analytics.RecordVideoDelta(ctx, video.ID, delta); err != nil {
		s.log.Warn("failed to record video analytics", zap.String("video_id", video.ID.String()), zap.Error(err))
	}
	if err := s.analytics.RecordCreatorDelta(ctx, video.CreatorWallet, delta); err != nil {
		s.log.Warn("failed to record creator analytics", zap.String("creator", video.CreatorWallet), zap.Error(err))
	}

	if err := s.videos.AddEarnings(ctx, video.ID, p.CreatorAmount); err != nil {
		s.log.Warn("failed to update video earnings", zap.String("video_id", video.ID.String()), zap.Error(err))
	}

	if err := s.profiles.Invalidate(ctx, video.CreatorWallet); err != nil {
		s.log.Warn("failed to invalidate creator profile", zap.String("creator", video.CreatorWallet), zap.Error(err))
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorWallet: strPtr(p.UserWallet),
		ActorType:   "user",
		Action:      "video_unlocked",
		EntityType:  "payment",
		EntityID:    &p.ID,
		Meta: map[string]any{
			"video_id":  video.ID.String(),
			"amount":    p.Amount.String(),
			"signature": p.TransactionSignature,
		},
	})

	_ = s.publisher.Publish(ctx, events.StreamPayments, events.Event{
		Type: events.EventPaymentCompleted,
		Payload: map[string]any{
			"wallet":          p.UserWallet,
			"payment_id":      p.ID.String(),
			"video_id":        video.ID.String(),
			"video_title":     video.Title,
			"creator_wallet":  video.CreatorWallet,
			"amount":          p.Amount.String(),
			"creator_amount":  p.CreatorAmount.String(),
			"platform_amount": p.PlatformAmount.String(),
			"signature":       p.TransactionSignature,
		},
	})
}

func (s *PaymentService) ListPayments(ctx context.Context, wallet string, limit, offset int) ([]models.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.payments.ListByWallet(ctx, wallet, limit, offset)
}

func (s *PaymentService) HasAccess(ctx context.Context, videoID, wallet string) (bool, error) {
	vid, err := uuid.Parse(videoID)
	if err != nil {
		return false, apperr.Wrap(apperr.KindValidation, err, "invalid video id")
	}
	user, err := s.users.GetByWallet(ctx, wallet)
	if err != nil || user == nil {
		return false, err
	}
	return s.payments.HasAccess(ctx, user.ID, vid)
}
