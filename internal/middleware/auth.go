package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/auth"
	"github.com/streampay/backend/internal/config"
)

const (
	CtxUserID = "user_id"
	CtxWallet = "wallet"
)

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":      msg,
		"kind":       "unauthorized",
		"request_id": GetRequestID(c),
	})
}

// AuthMiddleware accepts a wallet JWT from the Authorization header.
func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "missing authorization header")
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return unauthorized(c, "invalid authorization format")
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return unauthorized(c, "invalid or expired token")
		}
		if claims.Wallet == "" {
			return unauthorized(c, "token carries no wallet")
		}

		c.Locals(CtxUserID, claims.UserID)
		c.Locals(CtxWallet, claims.Wallet)

		return c.Next()
	}
}

func GetUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxUserID).(uuid.UUID)
	return id
}

func GetWallet(c *fiber.Ctx) string {
	w, _ := c.Locals(CtxWallet).(string)
	return w
}

// AdminMiddleware requires a wallet listed in ADMIN_WALLETS. It must run
// after AuthMiddleware.
func AdminMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.IsAdmin(GetWallet(c)) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":      "admin access required",
				"kind":       "unauthorized",
				"request_id": GetRequestID(c),
			})
		}
		return c.Next()
	}
}
