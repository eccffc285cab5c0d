package handlers

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/apperr"
	"github.com/streampay/backend/internal/chain"
	"github.com/streampay/backend/internal/http/dto"
	"github.com/streampay/backend/internal/middleware"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.New(apperr.KindValidation, "x"), fiber.StatusBadRequest},
		{apperr.New(apperr.KindInvalidWithdrawAmount, "x"), fiber.StatusBadRequest},
		{apperr.New(apperr.KindUnauthorized, "x"), fiber.StatusUnauthorized},
		{apperr.New(apperr.KindNoActiveSession, "x"), fiber.StatusPaymentRequired},
		{apperr.New(apperr.KindSessionExpired, "x"), fiber.StatusPaymentRequired},
		{apperr.New(apperr.KindInsufficientSessionBalance, "x"), fiber.StatusPaymentRequired},
		{apperr.New(apperr.KindNotFound, "x"), fiber.StatusNotFound},
		{apperr.New(apperr.KindConflict, "x"), fiber.StatusConflict},
		{apperr.New(apperr.KindInsufficientBalance, "x"), fiber.StatusUnprocessableEntity},
		{apperr.New(apperr.KindApprovalExceedsBalance, "x"), fiber.StatusUnprocessableEntity},
		{chain.ToAppError(chain.ErrBlockhashExpired, "x"), fiber.StatusBadGateway},
		{apperr.New(apperr.KindIntegrity, "x"), fiber.StatusInternalServerError},
		{apperr.New(apperr.KindLedgerDrift, "x"), fiber.StatusInternalServerError},
		{errors.New("plain"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(apperr.KindOf(tt.err)), func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func errorApp(err error) *fiber.App {
	app := fiber.New()
	app.Use(middleware.RequestIDMiddleware())
	app.Get("/", func(c *fiber.Ctx) error { return respondError(c, zap.NewNop(), err) })
	return app
}

func decodeError(t *testing.T, app *fiber.App) (int, dto.ErrorResponse) {
	t.Helper()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body dto.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, body
}

func TestRespondErrorCarriesAction(t *testing.T) {
	err := apperr.New(apperr.KindInsufficientSessionBalance, "top-up required").WithDetail("shortfall", "0.50")
	status, body := decodeError(t, errorApp(err))

	if status != fiber.StatusPaymentRequired {
		t.Errorf("status = %d", status)
	}
	if body.Kind != "insufficient_session_balance" || body.Action != "top_up" || body.RequestID != "req-1" {
		t.Errorf("body = %+v", body)
	}
	if body.Details["shortfall"] != "0.50" {
		t.Errorf("details = %v", body.Details)
	}
}

func TestRespondErrorCarriesChainReason(t *testing.T) {
	status, body := decodeError(t, errorApp(chain.ToAppError(chain.ErrConfirmTimeout, "approval transaction failed")))
	if status != fiber.StatusBadGateway || body.Reason != apperr.ReasonConfirmTimeout {
		t.Errorf("status=%d body=%+v", status, body)
	}
}

func TestRespondErrorHidesInternals(t *testing.T) {
	err := apperr.New(apperr.KindIntegrity, "encrypted key failed authentication").WithDetail("session_id", "s1")
	status, body := decodeError(t, errorApp(err))
	if status != fiber.StatusInternalServerError || body.Error != "internal server error" || body.Details != nil {
		t.Errorf("status=%d body=%+v", status, body)
	}

	recorded := apperr.New(apperr.KindInternal, "payment settled but could not be recorded").
		WithDetail("signature", "sig-1").
		WithDetail("db", "conn refused")
	_, body = decodeError(t, errorApp(recorded))
	if body.Details["signature"] != "sig-1" || len(body.Details) != 1 {
		t.Errorf("details = %v", body.Details)
	}
}
