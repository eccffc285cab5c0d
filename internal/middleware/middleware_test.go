package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/auth"
	"github.com/streampay/backend/internal/config"
)

func testApp(cfg *config.Config) *fiber.App {
	app := fiber.New()
	app.Use(RequestIDMiddleware())
	app.Use(AuthMiddleware(cfg, zap.NewNop()))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.SendString(GetWallet(c) + "|" + GetUserID(c).String())
	})
	app.Get("/admin", AdminMiddleware(cfg), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{JWTSecret: "secret", AdminWallets: []string{"admin-wallet"}}
	userID := uuid.New()
	good, err := auth.GenerateJWT(cfg.JWTSecret, userID, "alice", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	foreign, _ := auth.GenerateJWT("other-secret", userID, "alice", time.Hour)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", fiber.StatusUnauthorized},
		{"no bearer prefix", good, fiber.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, fiber.StatusUnauthorized},
		{"valid", "Bearer " + good, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := testApp(cfg).Test(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.status == fiber.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				if string(body) != "alice|"+userID.String() {
					t.Errorf("locals = %q", body)
				}
			}
		})
	}
}

func TestAdminMiddleware(t *testing.T) {
	cfg := &config.Config{JWTSecret: "secret", AdminWallets: []string{"admin-wallet"}}
	for wallet, want := range map[string]int{
		"admin-wallet": fiber.StatusOK,
		"alice":        fiber.StatusForbidden,
	} {
		token, _ := auth.GenerateJWT(cfg.JWTSecret, uuid.New(), wallet, time.Hour)
		req := httptest.NewRequest("GET", "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := testApp(cfg).Test(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("%s: status = %d, want %d", wallet, resp.StatusCode, want)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(RequestIDMiddleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(GetRequestID(c)) })

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"propagated", "abc-123", true},
		{"minted", "", false},
		{"oversized", strings.Repeat("x", 100), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			got := resp.Header.Get("X-Request-ID")
			if tt.keep && got != tt.incoming {
				t.Errorf("request id = %q, want %q", got, tt.incoming)
			}
			if !tt.keep {
				if _, err := uuid.Parse(got); err != nil {
					t.Errorf("minted id %q is not a uuid", got)
				}
			}
		})
	}
}
