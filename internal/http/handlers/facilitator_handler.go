package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/http/dto"
	"github.com/streampay/backend/internal/services"
)

type FacilitatorHandler struct {
	facilitator *services.FacilitatorService
	log         *zap.Logger
}

func NewFacilitatorHandler(facilitator *services.FacilitatorService, log *zap.Logger) *FacilitatorHandler {
	return &FacilitatorHandler{facilitator: facilitator, log: log}
}

func (h *FacilitatorHandler) Verify(c *fiber.Ctx) error {
	var req dto.FacilitatorRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.facilitator.Verify(c.UserContext(), req.Transaction)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(res)
}

func (h *FacilitatorHandler) Settle(c *fiber.Ctx) error {
	var req dto.FacilitatorRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.facilitator.Settle(c.UserContext(), req.Transaction)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(res)
}
