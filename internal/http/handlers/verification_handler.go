package handlers

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rental-marketplace/backend/internal/http/dto"
	"github.com/rental-marketplace/backend/internal/middleware"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/rbac"
	"github.com/rental-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

type VerificationWorkflow interface {
	Submit(ctx context.Context, in services.SubmitApplicationInput) (*models.VerificationApplication, error)
	Get(ctx context.Context, applicationID uuid.UUID) (*models.VerificationApplication, error)
	ChangeStatus(ctx context.Context, applicationID uuid.UUID, newStatus, reason string, notes *string, actor services.Actor) (*models.VerificationStatusLogEntry, error)
	History(ctx context.Context, applicationID uuid.UUID) ([]models.VerificationStatusLogEntry, error)
}

type VerificationHandler struct {
	verification VerificationWorkflow
	validate     *validator.Validate
	log          *zap.Logger
}

func NewVerificationHandler(verification VerificationWorkflow, log *zap.Logger) *VerificationHandler {
	return &VerificationHandler{verification: verification, validate: validator.New(), log: log}
}

func (h *VerificationHandler) Submit(c *fiber.Ctx) error {
	var req dto.SubmitVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	app, err := h.verification.Submit(c.Context(), services.SubmitApplicationInput{
		AgentUserID:   middleware.GetUserID(c),
		AgencyName:    req.AgencyName,
		LicenseNumber: req.LicenseNumber,
		ContactEmail:  req.ContactEmail,
		DocumentURLs:  req.DocumentURLs,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: app})
}

func (h *VerificationHandler) Get(c *fiber.Ctx) error {
	app, err := h.loadVisible(c)
	if err != nil || app == nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: app})
}

func (h *VerificationHandler) ChangeStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid application id")
	}
	var req dto.ChangeVerificationStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	actor := services.Actor{ID: middleware.GetUserID(c), Role: middleware.GetRole(c)}
	entry, err := h.verification.ChangeStatus(c.Context(), id, req.Status, req.Reason, req.Notes, actor)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entry})
}

func (h *VerificationHandler) History(c *fiber.Ctx) error {
	app, err := h.loadVisible(c)
	if err != nil || app == nil {
		return err
	}
	entries, err := h.verification.History(c.Context(), app.ID)
	if err != nil {
		return writeError(c, err)
	}
	if entries == nil {
		entries = []models.VerificationStatusLogEntry{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

// loadVisible lets the submitting agent and reviewers read an application.
func (h *VerificationHandler) loadVisible(c *fiber.Ctx) (*models.VerificationApplication, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, badRequest(c, "invalid application id")
	}
	app, err := h.verification.Get(c.Context(), id)
	if err != nil {
		return nil, writeError(c, err)
	}
	if app.AgentUserID != middleware.GetUserID(c) && !rbac.HasPermission(middleware.GetRole(c), rbac.PermReviewVerification) {
		return nil, forbidden(c)
	}
	return app, nil
}
