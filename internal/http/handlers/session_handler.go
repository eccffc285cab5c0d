package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/http/dto"
	"github.com/streampay/backend/internal/middleware"
	"github.com/streampay/backend/internal/services"
)

type SessionHandler struct {
	sessions *services.SessionService
	log      *zap.Logger
}

func NewSessionHandler(sessions *services.SessionService, log *zap.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, log: log}
}

func (h *SessionHandler) Prepare(c *fiber.Ctx) error {
	var req dto.PrepareSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	prepared, err := h.sessions.PrepareSession(c.UserContext(), middleware.GetWallet(c), req.DepositAmount)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: prepared})
}

func (h *SessionHandler) Confirm(c *fiber.Ctx) error {
	var req dto.ConfirmSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.SessionID == "" {
		return badRequest(c, "session_id is required")
	}

	session, err := h.sessions.ConfirmSession(c.UserContext(), middleware.GetWallet(c), req.SessionID, services.ConfirmInput{
		SignedTransaction: req.SignedTransaction,
		Signature:         req.Signature,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: session})
}

// Me returns the balance view, or null data when there is no active session.
func (h *SessionHandler) Me(c *fiber.Ctx) error {
	balance, err := h.sessions.SessionBalance(c.UserContext(), middleware.GetWallet(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	if balance == nil {
		return c.JSON(fiber.Map{"ok": true, "data": nil})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: balance})
}

func (h *SessionHandler) Withdraw(c *fiber.Ctx) error {
	var req dto.WithdrawRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	res, err := h.sessions.Withdraw(c.UserContext(), middleware.GetWallet(c), req.Amount)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: res})
}
