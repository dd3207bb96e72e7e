package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rental-marketplace/backend/internal/config"
	"github.com/rental-marketplace/backend/internal/http/handlers"
	"github.com/rental-marketplace/backend/internal/middleware"
	"github.com/rental-marketplace/backend/internal/rbac"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	escrowHandler *handlers.EscrowHandler,
	paymentsHandler *handlers.PaymentsHandler,
	verificationHandler *handlers.VerificationHandler,
	wsHub *handlers.WSHub,
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
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")

	// Gateway callbacks are authenticated by signature, not JWT
	api.Post("/payments/webhook", paymentsHandler.Webhook)

	// Public routes are limited per IP, protected ones per user after auth
	limit := middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute)

	// Meta (public, no auth required)
	metaHandler := handlers.NewMetaHandler(cfg.Currency)
	api.Get("/meta/escrow", limit, metaHandler.GetEscrowMeta)
	api.Get("/meta/verification-statuses", limit, metaHandler.GetVerificationStatuses)
	api.Get("/escrow/fee", limit, escrowHandler.FeePreview)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log), limit)

	// Escrow
	protected.Post("/escrow", middleware.RequirePermission(rbac.PermCreateEscrow), escrowHandler.CreateTransaction)
	protected.Get("/escrow", escrowHandler.ListTransactions)
	protected.Get("/escrow/:id", escrowHandler.GetTransaction)
	protected.Post("/escrow/:id/checkout", escrowHandler.StartCheckout)
	protected.Post("/escrow/:id/verify-payment", escrowHandler.RefreshPayment)
	protected.Post("/escrow/:id/milestones/:type", middleware.RequirePermission(rbac.PermAdvanceMilestone), escrowHandler.AdvanceMilestone)
	protected.Get("/escrow/:id/events", escrowHandler.GetEvents)

	// Agent verification
	protected.Post("/verification", middleware.RequirePermission(rbac.PermSubmitVerification), verificationHandler.Submit)
	protected.Get("/verification/:id", verificationHandler.Get)
	protected.Get("/verification/:id/history", verificationHandler.History)
	protected.Post("/verification/:id/status", middleware.RequirePermission(rbac.PermReviewVerification), verificationHandler.ChangeStatus)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
