package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rental-marketplace/backend/internal/config"
	"github.com/rental-marketplace/backend/internal/db"
	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/notify"
	"go.uber.org/zap"
)

// Notify bridge: subscribes to lifecycle events and delivers the email, SMS
// and WhatsApp messages configured in the templates file.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	templates, err := notify.LoadTemplates(cfg.NotifyTemplatesPath)
	if err != nil {
		log.Fatal("failed to load notification templates", zap.String("path", cfg.NotifyTemplatesPath), zap.Error(err))
	}

	rdb, err := db.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	bus, err := events.NewBackend(cfg, rdb, "notify-bridge", log)
	if err != nil {
		log.Fatal("failed to connect to event bus", zap.Error(err))
	}
	defer bus.Close()

	bridge := notify.NewBridge(templates, notify.NewSender(cfg.NotifyFunctionURL, cfg.NotifyTimeout, log), log)

	for _, stream := range []string{events.StreamEscrow, events.StreamVerification} {
		err := bus.Subscriber.Subscribe(ctx, stream, func(event events.Event) {
			sent := bridge.Handle(ctx, event)
			log.Info("event forwarded",
				zap.String("type", event.Type),
				zap.String("entity_id", event.EntityID),
				zap.Int("messages", sent),
			)
		})
		if err != nil {
			log.Fatal("failed to subscribe", zap.String("stream", stream), zap.Error(err))
		}
	}

	log.Info("notify-bridge started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}
