package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rental-marketplace/backend/internal/config"
	"github.com/rental-marketplace/backend/internal/db"
	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/notify"
	"github.com/rental-marketplace/backend/internal/payments"
	"github.com/rental-marketplace/backend/internal/repositories"
	"github.com/rental-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

const sweepBatch = 100

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	bus, err := events.NewBackend(cfg, rdb, "worker", log)
	if err != nil {
		log.Fatal("failed to connect to event bus", zap.Error(err))
	}
	defer bus.Close()

	// Services
	escrowService := services.NewEscrowService(
		repositories.NewEscrowRepo(pool),
		repositories.NewPropertyRepo(pool),
		repositories.NewAuditRepo(pool),
		payments.NewPaystackClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey, log),
		notify.NewDispatcher(bus.Publisher, cfg.NotifyTimeout, log),
		cfg,
		log,
	)

	log.Info("worker started", zap.Duration("sweep_interval", cfg.SweepInterval), zap.Duration("checkout_timeout", cfg.CheckoutTimeout))

	sweepTicker := time.NewTicker(cfg.SweepInterval)
	defer sweepTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sweepTicker.C:
			runCheckoutSweep(ctx, escrowService, cfg, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// runCheckoutSweep settles pending checkouts the gateway never called back about.
func runCheckoutSweep(ctx context.Context, escrowService *services.EscrowService, cfg *config.Config, log *zap.Logger) {
	report, err := escrowService.ExpireStaleCheckouts(ctx, cfg.CheckoutTimeout, sweepBatch)
	if err != nil {
		log.Error("checkout sweep failed", zap.Error(err))
		return
	}
	if report.Checked == 0 {
		return
	}
	log.Info("checkout sweep done",
		zap.Int("checked", report.Checked),
		zap.Int("confirmed", report.Confirmed),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
}
