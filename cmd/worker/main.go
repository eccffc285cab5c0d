package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/streampay/backend/internal/chain"
	"github.com/streampay/backend/internal/config"
	"github.com/streampay/backend/internal/db"
	"github.com/streampay/backend/internal/events"
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

	keyVault, err := vault.New(cfg.SessionEncryptionKey)
	if err != nil {
		log.Fatal("failed to initialise key vault", zap.Error(err))
	}

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4, MinConns: 1}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

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

	// Repos
	sessionRepo := repositories.NewSessionRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	challengeRepo := repositories.NewChallengeRepo(pool)

	// Services. The sweep never touches pending sessions; those live with the API.
	publisher := events.NewRedisPublisher(rdb, log)
	sessionService := services.NewSessionService(sessionRepo, pending.NewRedisStore(rdb), chainClient, keyVault,
		lock.NewRedisLocker(rdb, log), auditRepo, publisher, cfg, log)

	log.Info("worker started", zap.Duration("expire_interval", cfg.ExpireSweepInterval))

	expireTicker := time.NewTicker(cfg.ExpireSweepInterval)
	challengeTicker := time.NewTicker(15 * time.Minute)
	defer expireTicker.Stop()
	defer challengeTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// first sweep right away so a restart does not leave stale sessions for a full interval
	runExpireSweep(ctx, sessionService, log)

	for {
		select {
		case <-expireTicker.C:
			runExpireSweep(ctx, sessionService, log)
		case <-challengeTicker.C:
			runChallengeCleanup(ctx, challengeRepo, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runExpireSweep(ctx context.Context, sessionService *services.SessionService, log *zap.Logger) {
	start := time.Now()
	n, err := sessionService.ExpireStaleSessions(ctx)
	if err != nil {
		log.Error("session expiry sweep failed", zap.Int("expired", n), zap.Error(err))
		return
	}
	log.Info("session expiry sweep done", zap.Int("expired", n), zap.Duration("took", time.Since(start)))
}

func runChallengeCleanup(ctx context.Context, challengeRepo *repositories.ChallengeRepo, log *zap.Logger) {
	n, err := challengeRepo.DeleteExpired(ctx)
	if err != nil {
		log.Error("failed to delete expired challenges", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("expired challenges deleted", zap.Int64("count", n))
	}
}
