package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/config"
	"github.com/streampay/backend/internal/http/handlers"
	"github.com/streampay/backend/internal/middleware"
)

type Handlers struct {
	Auth        *handlers.AuthHandler
	User        *handlers.UserHandler
	Session     *handlers.SessionHandler
	Payment     *handlers.PaymentHandler
	Facilitator *handlers.FacilitatorHandler
	Admin       *handlers.AdminHandler
	Meta        *handlers.MetaHandler
	WS          *handlers.WSHub
}

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	h Handlers,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Public, rate limited per IP
	perIP := middleware.RateLimitMiddleware(rdb, 30, time.Minute)
	api.Post("/auth/challenge", perIP, h.Auth.Challenge)
	api.Post("/auth/verify", perIP, h.Auth.Verify)
	api.Get("/meta/payment-config", perIP, h.Meta.GetPaymentConfig)

	// called by payment clients without a wallet session
	api.Post("/facilitator/verify", perIP, h.Facilitator.Verify)
	api.Post("/facilitator/settle", perIP, h.Facilitator.Settle)

	// Protected endpoints, rate limited per wallet
	protected := api.Group("",
		middleware.AuthMiddleware(cfg, log),
		middleware.RateLimitMiddleware(rdb, 120, time.Minute),
	)

	protected.Get("/me", h.User.GetMe)
	protected.Post("/me/ping", h.User.Ping)

	protected.Post("/sessions/prepare", h.Session.Prepare)
	protected.Post("/sessions/confirm", h.Session.Confirm)
	protected.Get("/sessions/me", h.Session.Me)
	protected.Post("/sessions/withdraw", h.Session.Withdraw)

	protected.Post("/videos/:id/unlock", h.Payment.Unlock)
	protected.Get("/videos/:id/access", h.Payment.Access)
	protected.Get("/payments", h.Payment.List)

	admin := protected.Group("/admin", middleware.AdminMiddleware(cfg))
	admin.Post("/sessions/expire", h.Admin.ExpireSessions)
	admin.Post("/sessions/:wallet/revoke", h.Admin.RevokeSession)
	admin.Get("/sessions/drift", h.Admin.Drift)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(h.WS.HandleWS))
}
