package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/apperr"
	"github.com/streampay/backend/internal/http/dto"
	"github.com/streampay/backend/internal/middleware"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindInvalidWithdrawAmount:
		return fiber.StatusBadRequest
	case apperr.KindUnauthorized:
		return fiber.StatusUnauthorized
	case apperr.KindNoActiveSession, apperr.KindSessionExpired, apperr.KindInsufficientSessionBalance:
		return fiber.StatusPaymentRequired
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	case apperr.KindConflict:
		return fiber.StatusConflict
	case apperr.KindInsufficientBalance, apperr.KindApprovalExceedsBalance:
		return fiber.StatusUnprocessableEntity
	case apperr.KindChainSubmission:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status := StatusFor(err)
	kind := apperr.KindOf(err)
	resp := dto.ErrorResponse{
		Error:     err.Error(),
		Kind:      string(kind),
		Reason:    apperr.ReasonOf(err),
		Action:    apperr.Action(err),
		Details:   apperr.DetailsOf(err),
		RequestID: middleware.GetRequestID(c),
	}
	if status == fiber.StatusInternalServerError {
		log.Error("request failed",
			zap.String("request_id", resp.RequestID),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		// integrity and drift details stay in the logs
		resp.Error = "internal server error"
		if kind != apperr.KindInternal {
			resp.Details = nil
		} else {
			resp.Details = keepSignature(resp.Details)
		}
	}
	return c.Status(status).JSON(resp)
}

// keepSignature retains only the settled signature a caller needs to
// reconcile a payment that landed but was not recorded.
func keepSignature(details map[string]any) map[string]any {
	sig, ok := details["signature"]
	if !ok {
		return nil
	}
	return map[string]any{"signature": sig}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error:     msg,
		Kind:      string(apperr.KindValidation),
		RequestID: middleware.GetRequestID(c),
	})
}
