package handlers

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rental-marketplace/backend/internal/http/dto"
	"github.com/rental-marketplace/backend/internal/middleware"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/payments"
	"github.com/rental-marketplace/backend/internal/rbac"
	"github.com/rental-marketplace/backend/internal/services"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EscrowLifecycle is the part of services.EscrowService the HTTP layer uses.
type EscrowLifecycle interface {
	CreateTransaction(ctx context.Context, in services.CreateTransactionInput) (*models.EscrowTransactionWithMilestones, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.EscrowTransactionWithMilestones, error)
	ListTransactions(ctx context.Context, initiatorID uuid.UUID, limit, offset int) ([]models.EscrowTransaction, error)
	StartCheckout(ctx context.Context, id uuid.UUID) (*payments.CheckoutSession, error)
	RefreshPayment(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error)
	AdvanceMilestone(ctx context.Context, id uuid.UUID, milestoneType, outcome string, actor services.Actor, notes *string) (*models.EscrowMilestone, error)
	TransactionEvents(ctx context.Context, id uuid.UUID, limit, offset int) ([]models.AuditLog, error)
	AssignedAgent(ctx context.Context, id uuid.UUID) (*uuid.UUID, error)
}

type EscrowHandler struct {
	escrow   EscrowLifecycle
	validate *validator.Validate
	log      *zap.Logger
}

func NewEscrowHandler(escrow EscrowLifecycle, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrow: escrow, validate: validator.New(), log: log}
}

func (h *EscrowHandler) CreateTransaction(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}
	propertyID, _ := uuid.Parse(req.PropertyID)

	tx, err := h.escrow.CreateTransaction(c.Context(), services.CreateTransactionInput{
		PropertyID:      propertyID,
		InitiatorUserID: middleware.GetUserID(c),
		TenantName:      req.TenantName,
		TenantEmail:     req.TenantEmail,
		TenantPhone:     req.TenantPhone,
		Amount:          req.Amount,
		TransactionType: req.TransactionType,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: tx})
}

func (h *EscrowHandler) ListTransactions(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	txs, err := h.escrow.ListTransactions(c.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	if txs == nil {
		txs = []models.EscrowTransaction{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ListResponse{Items: txs, Limit: limit, Offset: offset}})
}

func (h *EscrowHandler) GetTransaction(c *fiber.Ctx) error {
	tx, err := h.loadVisible(c)
	if err != nil || tx == nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: tx})
}

func (h *EscrowHandler) StartCheckout(c *fiber.Ctx) error {
	tx, err := h.loadVisible(c)
	if err != nil || tx == nil {
		return err
	}
	if tx.InitiatorUserID != middleware.GetUserID(c) && middleware.GetRole(c) != rbac.RoleAdmin {
		return forbidden(c)
	}

	session, err := h.escrow.StartCheckout(c.Context(), tx.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.CheckoutResponse{
		TransactionID: tx.ID.String(),
		RedirectURL:   session.RedirectURL,
		SessionRef:    session.SessionRef,
		TotalCharged:  tx.TotalCharged,
	}})
}

// RefreshPayment is called by the checkout return page.
func (h *EscrowHandler) RefreshPayment(c *fiber.Ctx) error {
	tx, err := h.loadVisible(c)
	if err != nil || tx == nil {
		return err
	}
	updated, err := h.escrow.RefreshPayment(c.Context(), tx.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: updated})
}

func (h *EscrowHandler) AdvanceMilestone(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid transaction id")
	}
	var req dto.AdvanceMilestoneRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	actor := services.Actor{ID: middleware.GetUserID(c), Role: middleware.GetRole(c)}
	assigned, err := h.escrow.AssignedAgent(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	if !rbac.CanAdvanceMilestone(actor.Role, actor.ID, assigned) {
		return forbidden(c)
	}

	milestone, err := h.escrow.AdvanceMilestone(c.Context(), id, c.Params("type"), req.Outcome, actor, req.Notes)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: milestone})
}

func (h *EscrowHandler) GetEvents(c *fiber.Ctx) error {
	tx, err := h.loadVisible(c)
	if err != nil || tx == nil {
		return err
	}
	limit, offset := pagination(c)
	logs, err := h.escrow.TransactionEvents(c.Context(), tx.ID, limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ListResponse{Items: logs, Limit: limit, Offset: offset}})
}

// FeePreview shows the fee and total for an amount before anything is created.
func (h *EscrowHandler) FeePreview(c *fiber.Ctx) error {
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil || !amount.IsPositive() || !amount.IsInteger() {
		return respondError(c, fiber.StatusBadRequest, services.CodeInvalidAmount, "amount must be a positive whole number of minor units")
	}
	fees := models.ComputeFeeBreakdown(amount.IntPart())
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.FeePreviewResponse{
		Amount:  fees.Amount,
		Fee:     fees.Fee,
		Total:   fees.Total,
		FeeRate: models.EscrowFeeRate.String(),
	}})
}

// loadVisible returns the transaction when the caller may see it. A nil
// transaction with nil error means the response has already been written.
func (h *EscrowHandler) loadVisible(c *fiber.Ctx) (*models.EscrowTransactionWithMilestones, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, badRequest(c, "invalid transaction id")
	}
	tx, err := h.escrow.GetTransaction(c.Context(), id)
	if err != nil {
		return nil, writeError(c, err)
	}

	userID := middleware.GetUserID(c)
	if tx.InitiatorUserID == userID || rbac.HasPermission(middleware.GetRole(c), rbac.PermViewAnyEscrow) {
		return tx, nil
	}
	if middleware.GetRole(c) == rbac.RoleAgent {
		assigned, err := h.escrow.AssignedAgent(c.Context(), id)
		if err != nil {
			return nil, writeError(c, err)
		}
		if assigned != nil && *assigned == userID {
			return tx, nil
		}
	}
	return nil, forbidden(c)
}
