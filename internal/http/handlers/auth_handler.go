package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/http/dto"
	"github.com/streampay/backend/internal/services"
)

type AuthHandler struct {
	authService *services.AuthService
	log         *zap.Logger
}

func NewAuthHandler(authService *services.AuthService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, log: log}
}

// Challenge issues a one-time message for the wallet to sign.
func (h *AuthHandler) Challenge(c *fiber.Ctx) error {
	var req dto.ChallengeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	challenge, err := h.authService.IssueChallenge(c.UserContext(), req.Wallet)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: challenge})
}

func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	var req dto.VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	res, err := h.authService.Verify(c.UserContext(), req.Wallet, req.Nonce, req.Signature)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.AuthResponse{Token: res.Token, User: res.User, IsAdmin: res.IsAdmin})
}
