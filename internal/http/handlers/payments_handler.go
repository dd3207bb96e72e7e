package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rental-marketplace/backend/internal/http/dto"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/payments"
	"github.com/rental-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

const dedupScopeWebhook = "paystack_webhook"

type PaymentOutcomeHandler interface {
	HandlePaymentOutcome(ctx context.Context, outcome payments.PaymentOutcome) (*models.EscrowTransaction, error)
}

// CallbackDeduper drops gateway retries of a callback that is already being handled.
type CallbackDeduper interface {
	AcquireOnce(ctx context.Context, scope, id string) bool
	Release(ctx context.Context, scope, id string)
}

type PaymentsHandler struct {
	escrow PaymentOutcomeHandler
	dedup  CallbackDeduper
	secret string
	log    *zap.Logger
}

func NewPaymentsHandler(escrow PaymentOutcomeHandler, dedup CallbackDeduper, secret string, log *zap.Logger) *PaymentsHandler {
	return &PaymentsHandler{escrow: escrow, dedup: dedup, secret: secret, log: log}
}

// Webhook receives signed charge events from the gateway. Anything the
// gateway should not retry is acknowledged with 200.
func (h *PaymentsHandler) Webhook(c *fiber.Ctx) error {
	body := c.Body()
	outcome, ok, err := payments.ParseWebhook(h.secret, body, c.Get(payments.SignatureHeader))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			h.log.Warn("webhook signature rejected", zap.String("ip", c.IP()))
			return respondError(c, fiber.StatusUnauthorized, "InvalidSignature", "invalid signature")
		}
		h.log.Warn("webhook body rejected", zap.Error(err))
		return c.JSON(dto.SuccessResponse{OK: true})
	}
	if !ok {
		return c.JSON(dto.SuccessResponse{OK: true})
	}

	dedupID := outcome.SessionRef + ":" + string(outcome.Outcome)
	if !h.dedup.AcquireOnce(c.Context(), dedupScopeWebhook, dedupID) {
		h.log.Debug("duplicate webhook", zap.String("session_ref", outcome.SessionRef))
		return c.JSON(dto.SuccessResponse{OK: true})
	}

	tx, err := h.escrow.HandlePaymentOutcome(c.Context(), *outcome)
	if err != nil {
		if services.KindOf(err) == services.KindDependency {
			h.dedup.Release(c.Context(), dedupScopeWebhook, dedupID)
			return writeError(c, err)
		}
		// A captured charge that funds nothing needs an operator.
		level := zap.WarnLevel
		if outcome.Outcome == payments.OutcomeSuccess {
			level = zap.ErrorLevel
		}
		h.log.Log(level, "webhook outcome not applied",
			zap.String("session_ref", outcome.SessionRef),
			zap.String("outcome", string(outcome.Outcome)),
			zap.Error(err),
		)
		return c.JSON(dto.SuccessResponse{OK: true})
	}

	fields := []zap.Field{zap.String("session_ref", outcome.SessionRef), zap.String("outcome", string(outcome.Outcome))}
	if tx != nil {
		fields = append(fields, zap.String("transaction_id", tx.ID.String()), zap.String("status", tx.Status))
	}
	h.log.Info("webhook processed", fields...)
	return c.JSON(dto.SuccessResponse{OK: true})
}
