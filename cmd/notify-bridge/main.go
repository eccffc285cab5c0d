package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/streampay/backend/internal/config"
	"github.com/streampay/backend/internal/db"
	"github.com/streampay/backend/internal/events"
	"github.com/streampay/backend/internal/services"
)

// Notify Bridge subscribes to payment events on Redis and forwards them to
// the creator webhook.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.CreatorWebhookURL == "" {
		log.Fatal("CREATOR_WEBHOOK_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	webhook := services.NewWebhookClient(cfg.CreatorWebhookURL, log)

	err = subscriber.Subscribe(ctx, func(event events.Event) {
		if event.Type != events.EventPaymentCompleted {
			return
		}
		creator, _ := event.Payload["creator_wallet"].(string)
		if err := webhook.Send(ctx, event); err != nil {
			log.Warn("failed to forward payment event", zap.String("creator", creator), zap.Error(err))
			return
		}
		log.Info("payment event forwarded", zap.String("creator", creator))
	}, events.StreamPayments)
	if err != nil {
		log.Fatal("failed to subscribe to payment events", zap.Error(err))
	}

	log.Info("notify-bridge started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}
