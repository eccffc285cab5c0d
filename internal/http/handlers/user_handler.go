package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/http/dto"
	"github.com/streampay/backend/internal/middleware"
	"github.com/streampay/backend/internal/services"
)

type UserHandler struct {
	profiles *services.ProfileService
	log      *zap.Logger
}

func NewUserHandler(profiles *services.ProfileService, log *zap.Logger) *UserHandler {
	return &UserHandler{profiles: profiles, log: log}
}

func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	profile, err := h.profiles.GetProfile(c.UserContext(), middleware.GetWallet(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: profile})
}

func (h *UserHandler) Ping(c *fiber.Ctx) error {
	h.profiles.Touch(c.UserContext(), middleware.GetUserID(c))
	return c.JSON(dto.SuccessResponse{OK: true})
}
