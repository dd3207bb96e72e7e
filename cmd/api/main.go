package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/rental-marketplace/backend/internal/config"
	"github.com/rental-marketplace/backend/internal/db"
	"github.com/rental-marketplace/backend/internal/dedup"
	"github.com/rental-marketplace/backend/internal/events"
	apphttp "github.com/rental-marketplace/backend/internal/http"
	"github.com/rental-marketplace/backend/internal/http/dto"
	"github.com/rental-marketplace/backend/internal/http/handlers"
	"github.com/rental-marketplace/backend/internal/middleware"
	"github.com/rental-marketplace/backend/internal/notify"
	"github.com/rental-marketplace/backend/internal/payments"
	"github.com/rental-marketplace/backend/internal/repositories"
	"github.com/rental-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Events
	bus, err := events.NewBackend(cfg, rdb, "api", log)
	if err != nil {
		log.Fatal("failed to connect to event bus", zap.Error(err))
	}
	defer bus.Close()

	// Repositories
	escrowRepo := repositories.NewEscrowRepo(pool)
	propertyRepo := repositories.NewPropertyRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	verificationRepo := repositories.NewVerificationRepo(pool)

	// Services
	gateway := payments.NewPaystackClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey, log)
	dispatcher := notify.NewDispatcher(bus.Publisher, cfg.NotifyTimeout, log)
	escrowService := services.NewEscrowService(escrowRepo, propertyRepo, auditRepo, gateway, dispatcher, cfg, log)
	verificationService := services.NewVerificationService(verificationRepo, auditRepo, dispatcher, cfg, log)

	// Handlers
	escrowHandler := handlers.NewEscrowHandler(escrowService, log)
	paymentsHandler := handlers.NewPaymentsHandler(escrowService, dedup.NewDeduper(rdb, cfg.WebhookDedupTTL, log), cfg.GatewaySecretKey, log)
	verificationHandler := handlers.NewVerificationHandler(verificationService, log)
	wsHub := handlers.NewWSHub(cfg, bus.Subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: middleware.GetRequestID(c)})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, escrowHandler, paymentsHandler, verificationHandler, wsHub)

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
