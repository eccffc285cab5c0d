package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/streampay/backend/internal/config"
	"github.com/streampay/backend/internal/http/dto"
)

// PaymentConfig is what a client needs to build and sign payment
// transactions.
type PaymentConfig struct {
	USDCMint                 string `json:"usdc_mint"`
	PlatformWallet           string `json:"platform_wallet"`
	PlatformFeeBPS           int    `json:"platform_fee_bps"`
	FacilitatorAddress       string `json:"facilitator_address"`
	PendingSessionTTLSeconds int64  `json:"pending_session_ttl_seconds"`
	SessionTTLSeconds        int64  `json:"session_ttl_seconds"`
}

type MetaHandler struct {
	payment PaymentConfig
}

func NewMetaHandler(cfg *config.Config, facilitatorAddress string) *MetaHandler {
	return &MetaHandler{payment: PaymentConfig{
		USDCMint:                 cfg.USDCMint,
		PlatformWallet:           cfg.PlatformWallet,
		PlatformFeeBPS:           cfg.PlatformFeeBPS,
		FacilitatorAddress:       facilitatorAddress,
		PendingSessionTTLSeconds: int64(cfg.PendingSessionTTL.Seconds()),
		SessionTTLSeconds:        int64(cfg.SessionTTL.Seconds()),
	}}
}

func (h *MetaHandler) GetPaymentConfig(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.payment})
}
