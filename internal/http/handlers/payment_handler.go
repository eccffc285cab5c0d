package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/http/dto"
	"github.com/streampay/backend/internal/middleware"
	"github.com/streampay/backend/internal/services"
)

type PaymentHandler struct {
	payments *services.PaymentService
	log      *zap.Logger
}

func NewPaymentHandler(payments *services.PaymentService, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, log: log}
}

func (h *PaymentHandler) Unlock(c *fiber.Ctx) error {
	res, err := h.payments.UnlockVideo(c.UserContext(), c.Params("id"), middleware.GetWallet(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	status := fiber.StatusCreated
	if res.AlreadyPaid {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(dto.SuccessResponse{OK: true, Data: res})
}

func (h *PaymentHandler) Access(c *fiber.Ctx) error {
	videoID := c.Params("id")
	ok, err := h.payments.HasAccess(c.UserContext(), videoID, middleware.GetWallet(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.AccessResponse{VideoID: videoID, HasAccess: ok}})
}

func (h *PaymentHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	payments, err := h.payments.ListPayments(c.UserContext(), middleware.GetWallet(c), limit, offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: payments})
}
