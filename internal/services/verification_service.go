package services

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rental-marketplace/backend/internal/config"
	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/repositories"
	"go.uber.org/zap"
)

const entityVerificationApplication = "verification_application"

type VerificationStore interface {
	Create(ctx context.Context, a *models.VerificationApplication) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.VerificationApplication, error)
	ChangeStatus(ctx context.Context, entry *models.VerificationStatusLogEntry) error
	History(ctx context.Context, applicationID uuid.UUID) ([]models.VerificationStatusLogEntry, error)
}

type SubmitApplicationInput struct {
	AgentUserID   uuid.UUID `validate:"required"`
	AgencyName    string    `validate:"required,min=2,max=200"`
	LicenseNumber string    `validate:"required,printascii,max=64"`
	ContactEmail  string    `validate:"required,email"`
	DocumentURLs  []string  `validate:"required,min=1,max=10,dive,url"`
}

type VerificationService struct {
	store    VerificationStore
	audit    AuditLogger
	notifier Notifier
	validate *validator.Validate
	cfg      *config.Config
	log      *zap.Logger
}

func NewVerificationService(store VerificationStore, audit AuditLogger, notifier Notifier, cfg *config.Config, log *zap.Logger) *VerificationService {
	return &VerificationService{
		store:    store,
		audit:    audit,
		notifier: notifier,
		validate: validator.New(),
		cfg:      cfg,
		log:      log,
	}
}

func (s *VerificationService) Submit(ctx context.Context, in SubmitApplicationInput) (*models.VerificationApplication, error) {
	in.AgencyName = strings.TrimSpace(in.AgencyName)
	in.LicenseNumber = strings.TrimSpace(in.LicenseNumber)
	in.ContactEmail = strings.TrimSpace(in.ContactEmail)
	if err := s.validate.Struct(in); err != nil {
		return nil, newError(ErrInvalidApplication, "%s", describeValidation(err))
	}

	app := &models.VerificationApplication{
		AgentUserID:   in.AgentUserID,
		AgencyName:    in.AgencyName,
		LicenseNumber: in.LicenseNumber,
		ContactEmail:  in.ContactEmail,
		DocumentURLs:  in.DocumentURLs,
		Status:        models.VerificationStatusPending,
	}

	sctx, cancel := withStoreTimeout(ctx, s.cfg)
	defer cancel()
	if err := s.store.Create(sctx, app); err != nil {
		return nil, wrapError(ErrPersistenceFailure, err, "create verification application")
	}

	s.writeAudit(ctx, models.AuditLog{
		ActorUserID: &app.AgentUserID,
		ActorType:   models.ActorTypeAgent,
		Action:      "verification_submitted",
		EntityType:  entityVerificationApplication,
		EntityID:    &app.ID,
		Meta:        map[string]any{"agency_name": app.AgencyName},
	})
	return app, nil
}

// ChangeStatus moves an application along the verification table and appends
// the log entry in the same write. The log is never rewritten.
func (s *VerificationService) ChangeStatus(ctx context.Context, applicationID uuid.UUID, newStatus, reason string, notes *string, actor Actor) (*models.VerificationStatusLogEntry, error) {
	if actor.ID == uuid.Nil {
		return nil, newError(ErrMissingActor, "actor is required")
	}
	if _, ok := models.ValidVerificationTransitions[newStatus]; !ok {
		return nil, newError(ErrInvalidStatus, "unknown verification status %q", newStatus)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, newError(ErrMissingReason, "a reason is required for every status change")
	}

	app, err := s.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if !models.IsValidVerificationTransition(app.Status, newStatus) {
		return nil, newError(ErrInvalidStateTransition, "application %s cannot move from %s to %s", app.ID, app.Status, newStatus)
	}

	entry := &models.VerificationStatusLogEntry{
		ApplicationID:  app.ID,
		PreviousStatus: app.Status,
		NewStatus:      newStatus,
		Reason:         reason,
		Notes:          notes,
		ActorUserID:    actor.ID,
	}

	sctx, cancel := withStoreTimeout(ctx, s.cfg)
	defer cancel()
	if err := s.store.ChangeStatus(sctx, entry); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return nil, newError(ErrInvalidStateTransition, "application %s changed concurrently", app.ID)
		}
		return nil, wrapError(ErrPersistenceFailure, err, "change status of %s", app.ID)
	}

	s.writeAudit(ctx, models.AuditLog{
		ActorUserID: &actor.ID,
		ActorType:   auditActorType(actor.Role),
		Action:      "verification_" + newStatus,
		EntityType:  entityVerificationApplication,
		EntityID:    &app.ID,
		Meta:        map[string]any{"from": app.Status, "reason": reason},
	})
	s.notifier.Notify(ctx, events.EventVerificationStatusChanged, app.ID, map[string]any{
		"application_id": app.ID.String(),
		"agent_user_id":  app.AgentUserID.String(),
		"agency_name":    app.AgencyName,
		"agent_email":    app.ContactEmail,
		"old_status":     app.Status,
		"status":         newStatus,
		"reason":         reason,
	})

	s.log.Info("verification status changed",
		zap.String("application_id", app.ID.String()),
		zap.String("from", app.Status),
		zap.String("to", newStatus),
		zap.String("actor_id", actor.ID.String()),
	)
	return entry, nil
}

func (s *VerificationService) Get(ctx context.Context, applicationID uuid.UUID) (*models.VerificationApplication, error) {
	sctx, cancel := withStoreTimeout(ctx, s.cfg)
	defer cancel()
	app, err := s.store.GetByID(sctx, applicationID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, newError(ErrApplicationNotFound, "application %s not found", applicationID)
		}
		return nil, wrapError(ErrPersistenceFailure, err, "get application %s", applicationID)
	}
	return app, nil
}

// History returns the status log of an application, oldest first.
func (s *VerificationService) History(ctx context.Context, applicationID uuid.UUID) ([]models.VerificationStatusLogEntry, error) {
	if _, err := s.Get(ctx, applicationID); err != nil {
		return nil, err
	}
	sctx, cancel := withStoreTimeout(ctx, s.cfg)
	defer cancel()
	entries, err := s.store.History(sctx, applicationID)
	if err != nil {
		return nil, wrapError(ErrPersistenceFailure, err, "history of %s", applicationID)
	}
	return entries, nil
}

func (s *VerificationService) writeAudit(ctx context.Context, entry models.AuditLog) {
	sctx, cancel := withStoreTimeout(context.WithoutCancel(ctx), s.cfg)
	defer cancel()
	if err := s.audit.Log(sctx, entry); err != nil {
		s.log.Warn("audit log write failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
