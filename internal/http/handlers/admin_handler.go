package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/http/dto"
	"github.com/streampay/backend/internal/middleware"
	"github.com/streampay/backend/internal/services"
)

type AdminHandler struct {
	sessions *services.SessionService
	log      *zap.Logger
}

func NewAdminHandler(sessions *services.SessionService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{sessions: sessions, log: log}
}

func (h *AdminHandler) ExpireSessions(c *fiber.Ctx) error {
	n, err := h.sessions.ExpireStaleSessions(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ExpireResponse{Expired: n}})
}

func (h *AdminHandler) RevokeSession(c *fiber.Ctx) error {
	session, err := h.sessions.RevokeSession(c.UserContext(), c.Params("wallet"), middleware.GetWallet(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: session})
}

func (h *AdminHandler) Drift(c *fiber.Ctx) error {
	report, err := h.sessions.DriftReport(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: report})
}
