package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/cache"
	"github.com/streampay/backend/internal/chain"
	"github.com/streampay/backend/internal/config"
	"github.com/streampay/backend/internal/db"
	"github.com/streampay/backend/internal/events"
	apphttp "github.com/streampay/backend/internal/http"
	"github.com/streampay/backend/internal/http/handlers"
	"github.com/streampay/backend/internal/lock"
	"github.com/streampay/backend/internal/pending"
	"github.com/streampay/backend/internal/repositories"
	"github.com/streampay/backend/internal/services"
	"github.com/streampay/backend/internal/vault"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Delegate keys cannot be stored or used without the vault
	keyVault, err := vault.New(cfg.SessionEncryptionKey)
	if err != nil {
		log.Fatal("failed to initialise key vault", zap.Error(err))
	}

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.DefaultPoolOptions, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Chain
	chainClient, err := chain.NewSolanaClient(chain.SolanaConfig{
		RPCURL:            cfg.SolanaRPCURL,
		USDCMint:          cfg.USDCMint,
		FacilitatorSecret: cfg.FacilitatorSecretKey,
		ConfirmTimeout:    cfg.ConfirmTimeout,
		MaxRetries:        cfg.ConfirmMaxRetries,
	}, log)
	if err != nil {
		log.Fatal("failed to create chain client", zap.Error(err))
	}

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	sessionRepo := repositories.NewSessionRepo(pool)
	paymentRepo := repositories.NewPaymentRepo(pool)
	videoRepo := repositories.NewVideoRepo(pool)
	analyticsRepo := repositories.NewAnalyticsRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	challengeRepo := repositories.NewChallengeRepo(pool)

	// Pending sessions
	var pendingStore pending.Store
	if cfg.PendingStore == config.PendingStoreRedis {
		pendingStore = pending.NewRedisStore(rdb)
	} else {
		mem := pending.NewMemoryStore(log)
		go mem.Run(ctx, time.Minute)
		pendingStore = mem
	}
	log.Info("pending session store", zap.String("backend", cfg.PendingStore))

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Caches
	profileCache := cache.NewProfileCache(rdb, 10*time.Minute)
	settlementCache := cache.NewSettlementCache(rdb, 24*time.Hour)

	// Services
	sessionService := services.NewSessionService(sessionRepo, pendingStore, chainClient, keyVault,
		lock.NewRedisLocker(rdb, log), auditRepo, publisher, cfg, log)
	paymentService := services.NewPaymentService(sessionService, paymentRepo, videoRepo, userRepo,
		analyticsRepo, profileCache, chainClient, auditRepo, publisher, cfg, log)
	authService := services.NewAuthService(challengeRepo, userRepo, auditRepo, cfg, log)
	facilitatorService := services.NewFacilitatorService(chainClient, settlementCache, auditRepo, log)
	profileService := services.NewProfileService(userRepo, analyticsRepo, profileCache, cfg, log)

	// Handlers
	wsHub := handlers.NewWSHub(cfg, subscriber, log)
	if err := wsHub.Start(ctx); err != nil {
		log.Error("failed to subscribe websocket hub", zap.Error(err))
	}

	h := apphttp.Handlers{
		Auth:        handlers.NewAuthHandler(authService, log),
		User:        handlers.NewUserHandler(profileService, log),
		Session:     handlers.NewSessionHandler(sessionService, log),
		Payment:     handlers.NewPaymentHandler(paymentService, log),
		Facilitator: handlers.NewFacilitatorHandler(facilitatorService, log),
		Admin:       handlers.NewAdminHandler(sessionService, log),
		Meta:        handlers.NewMetaHandler(cfg, chainClient.FacilitatorAddress()),
		WS:          wsHub,
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, h)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
