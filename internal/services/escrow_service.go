package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rental-marketplace/backend/internal/config"
	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/metrics"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/payments"
	"github.com/rental-marketplace/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const entityEscrowTransaction = "escrow_transaction"

// maxAmount keeps amount + fee well inside int64 and the BIGINT columns.
var maxAmount = decimal.NewFromInt(1_000_000_000_000_000)

// LedgerStore is the durable record of transactions and milestones.
type LedgerStore interface {
	InsertTransactionWithMilestones(ctx context.Context, t *models.EscrowTransaction, milestones []*models.EscrowMilestone) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error)
	GetTransactionByGatewayRef(ctx context.Context, ref string) (*models.EscrowTransaction, error)
	ListByInitiator(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.EscrowTransaction, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.EscrowTransaction, error)
	ListMilestones(ctx context.Context, transactionID uuid.UUID) ([]models.EscrowMilestone, error)
	SetGatewayReference(ctx context.Context, id uuid.UUID, ref string) error
	ListSessionRefs(ctx context.Context, transactionID uuid.UUID) ([]string, error)
	ApplyTransition(ctx context.Context, t repositories.Transition) error
}

type PropertyLookup interface {
	GetProperty(ctx context.Context, id uuid.UUID) (*models.Property, error)
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// Notifier is fire-and-forget. Implementations must not block past their own timeout.
type Notifier interface {
	Notify(ctx context.Context, event string, entityID uuid.UUID, payload map[string]any)
}

// Actor is the authenticated caller of a mutating operation.
type Actor struct {
	ID   uuid.UUID
	Role string // models.ActorType*
}

type CreateTransactionInput struct {
	PropertyID      uuid.UUID
	InitiatorUserID uuid.UUID
	TenantName      string
	TenantEmail     string
	TenantPhone     *string
	Amount          decimal.Decimal
	TransactionType string
}

// ExpiryReport summarises one sweep over stale pending checkouts.
type ExpiryReport struct {
	Checked   int
	Confirmed int
	Failed    int
	Skipped   int
}

type EscrowService struct {
	ledger     LedgerStore
	properties PropertyLookup
	audit      AuditLogger
	gateway    payments.Gateway
	notifier   Notifier
	validate   *validator.Validate
	cfg        *config.Config
	log        *zap.Logger
	now        func() time.Time
}

func NewEscrowService(
	ledger LedgerStore,
	properties PropertyLookup,
	audit AuditLogger,
	gateway payments.Gateway,
	notifier Notifier,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		ledger:     ledger,
		properties: properties,
		audit:      audit,
		gateway:    gateway,
		notifier:   notifier,
		validate:   validator.New(),
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

func (s *EscrowService) CreateTransaction(ctx context.Context, in CreateTransactionInput) (*models.EscrowTransactionWithMilestones, error) {
	if !in.Amount.IsPositive() || !in.Amount.IsInteger() || in.Amount.GreaterThan(maxAmount) {
		return nil, s.reject("create", newError(ErrInvalidAmount, "amount must be a positive whole number of minor units, got %s", in.Amount))
	}
	if !models.IsValidTransactionType(in.TransactionType) {
		return nil, s.reject("create", newError(ErrInvalidTransactionType, "transaction type %q must be one of %s",
			in.TransactionType, strings.Join(models.TransactionTypes, ", ")))
	}
	in.TenantName = strings.TrimSpace(in.TenantName)
	in.TenantEmail = strings.TrimSpace(in.TenantEmail)
	if in.TenantName == "" {
		return nil, s.reject("create", newError(ErrInvalidTenant, "tenant name is required"))
	}
	if err := s.validate.Var(in.TenantEmail, "required,email"); err != nil {
		return nil, s.reject("create", newError(ErrInvalidTenant, "tenant email %q is not a valid address", in.TenantEmail))
	}
	if in.InitiatorUserID == uuid.Nil {
		return nil, s.reject("create", newError(ErrMissingActor, "initiating user is required"))
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if _, err := s.properties.GetProperty(sctx, in.PropertyID); err != nil {
		return nil, s.reject("create", s.storeError(err, ErrPropertyNotFound, "property %s", in.PropertyID))
	}

	fees := models.ComputeFeeBreakdown(in.Amount.IntPart())
	t := &models.EscrowTransaction{
		PropertyID:      in.PropertyID,
		InitiatorUserID: in.InitiatorUserID,
		TenantName:      in.TenantName,
		TenantEmail:     in.TenantEmail,
		TenantPhone:     in.TenantPhone,
		Amount:          fees.Amount,
		EscrowFee:       fees.Fee,
		TransactionType: in.TransactionType,
		Status:          models.EscrowStatusPending,
	}
	milestones := make([]*models.EscrowMilestone, len(models.MilestoneOrder))
	for i, mt := range models.MilestoneOrder {
		milestones[i] = &models.EscrowMilestone{
			MilestoneType: mt,
			Position:      i,
			Status:        models.MilestoneStatusPending,
		}
	}

	if err := s.ledger.InsertTransactionWithMilestones(sctx, t, milestones); err != nil {
		return nil, s.reject("create", wrapError(ErrPersistenceFailure, err, "create escrow transaction"))
	}

	metrics.RecordEscrowTransition("none", models.EscrowStatusPending)
	s.writeAudit(ctx, models.AuditLog{
		ActorUserID: &t.InitiatorUserID,
		ActorType:   models.ActorTypeUser,
		Action:      "escrow_created",
		EntityType:  entityEscrowTransaction,
		EntityID:    &t.ID,
		Meta: map[string]any{
			"property_id":      t.PropertyID.String(),
			"amount":           t.Amount,
			"escrow_fee":       t.EscrowFee,
			"transaction_type": t.TransactionType,
		},
	})
	s.notify(ctx, events.EventTransactionCreated, t, map[string]any{
		"total_charged": t.TotalCharged(),
	})

	out := &models.EscrowTransactionWithMilestones{
		EscrowTransaction: *t,
		TotalCharged:      t.TotalCharged(),
		Milestones:        make([]models.EscrowMilestone, len(milestones)),
	}
	for i, m := range milestones {
		out.Milestones[i] = *m
	}
	return out, nil
}

// StartCheckout opens a hosted checkout for the fee-adjusted total and records
// the session reference. Calling it again while pending opens a new session;
// earlier sessions stay valid, so a payment on any of them funds the escrow.
func (s *EscrowService) StartCheckout(ctx context.Context, transactionID uuid.UUID) (*payments.CheckoutSession, error) {
	t, err := s.getTransaction(ctx, transactionID)
	if err != nil {
		return nil, s.reject("checkout", err)
	}
	if t.Status != models.EscrowStatusPending {
		return nil, s.reject("checkout", newError(ErrInvalidStateTransition, "transaction %s is %s, checkout needs pending", t.ID, t.Status))
	}
	if t.GatewayReference != nil {
		// Never charge twice: settle an earlier session that was already paid.
		outcome, err := s.gatewayOutcome(ctx, t)
		if err != nil {
			return nil, s.reject("checkout", err)
		}
		if outcome.Outcome == payments.OutcomeSuccess {
			if _, err := s.HandlePaymentOutcome(ctx, *outcome); err != nil {
				return nil, err
			}
			return nil, s.reject("checkout", newError(ErrInvalidStateTransition, "transaction %s is already paid", t.ID))
		}
	}

	session, err := s.gateway.InitiateCheckout(ctx, payments.CheckoutRequest{
		TransactionID: t.ID,
		Amount:        t.TotalCharged(),
		Email:         t.TenantEmail,
		Currency:      s.cfg.Currency,
		CallbackURL:   s.cfg.GatewayCallbackURL,
		Metadata: map[string]any{
			"transaction_id":   t.ID.String(),
			"property_id":      t.PropertyID.String(),
			"transaction_type": t.TransactionType,
		},
	})
	if err != nil {
		return nil, s.reject("checkout", wrapError(ErrGatewayFailure, err, "initiate checkout for %s", t.ID))
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.ledger.SetGatewayReference(sctx, t.ID, session.SessionRef); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return nil, s.reject("checkout", newError(ErrInvalidStateTransition, "transaction %s left pending during checkout", t.ID))
		}
		return nil, s.reject("checkout", wrapError(ErrPersistenceFailure, err, "store session reference for %s", t.ID))
	}

	s.log.Info("checkout started",
		zap.String("transaction_id", t.ID.String()),
		zap.String("session_ref", session.SessionRef),
		zap.Int64("total", t.TotalCharged()),
	)
	return session, nil
}

// ConfirmFunding moves a pending transaction to funds_held and completes the
// funds_deposited milestone in one write. A repeat with the same reference is a no-op.
func (s *EscrowService) ConfirmFunding(ctx context.Context, transactionID uuid.UUID, gatewayReference string) (*models.EscrowTransaction, error) {
	if gatewayReference == "" {
		return nil, s.reject("confirm_funding", newError(ErrMissingReference, "gateway reference is required"))
	}

	t, err := s.getTransaction(ctx, transactionID)
	if err != nil {
		return nil, s.reject("confirm_funding", err)
	}
	if done, err := fundingAlreadyConfirmed(t, gatewayReference); err != nil {
		return nil, s.reject("confirm_funding", err)
	} else if done {
		return t, nil
	}
	if t.GatewayReference != nil && *t.GatewayReference != gatewayReference {
		refs, err := s.sessionRefs(ctx, t)
		if err != nil {
			return nil, s.reject("confirm_funding", err)
		}
		if !slices.Contains(refs, gatewayReference) {
			return nil, s.reject("confirm_funding", newError(ErrInvalidStateTransition,
				"session %s was not issued for transaction %s", gatewayReference, t.ID))
		}
	}

	deposit, err := s.milestone(ctx, t.ID, models.MilestoneFundsDeposited)
	if err != nil {
		return nil, s.reject("confirm_funding", err)
	}

	now := s.now().UTC()
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	err = s.ledger.ApplyTransition(sctx, repositories.Transition{
		TransactionID:    t.ID,
		ExpectedStatus:   models.EscrowStatusPending,
		NewStatus:        models.EscrowStatusFundsHeld,
		GatewayReference: &gatewayReference,
		Milestone: &repositories.MilestoneUpdate{
			ID:          deposit.ID,
			Status:      models.MilestoneStatusCompleted,
			CompletedAt: &now,
		},
	})
	if errors.Is(err, repositories.ErrConflict) {
		// Lost the race to a duplicate callback, or the transaction moved on.
		current, rerr := s.getTransaction(ctx, t.ID)
		if rerr != nil {
			return nil, s.reject("confirm_funding", rerr)
		}
		if done, err := fundingAlreadyConfirmed(current, gatewayReference); err != nil {
			return nil, s.reject("confirm_funding", err)
		} else if done {
			return current, nil
		}
		return nil, s.reject("confirm_funding", newError(ErrInvalidStateTransition, "transaction %s changed during confirmation", t.ID))
	}
	if err != nil {
		return nil, s.reject("confirm_funding", wrapError(ErrPersistenceFailure, err, "confirm funding for %s", t.ID))
	}

	t.Status = models.EscrowStatusFundsHeld
	t.GatewayReference = &gatewayReference
	t.UpdatedAt = now

	metrics.RecordEscrowTransition(models.EscrowStatusPending, models.EscrowStatusFundsHeld)
	metrics.RecordMilestoneOutcome(models.MilestoneFundsDeposited, models.MilestoneStatusCompleted)
	s.writeAudit(ctx, models.AuditLog{
		ActorType:  models.ActorTypeSystem,
		Action:     "escrow_funds_confirmed",
		EntityType: entityEscrowTransaction,
		EntityID:   &t.ID,
		Meta:       map[string]any{"gateway_reference": gatewayReference},
	})
	s.notify(ctx, events.EventTransactionStatusChanged, t, map[string]any{
		"old_status": models.EscrowStatusPending,
	})
	s.notify(ctx, events.EventMilestoneChanged, t, map[string]any{
		"milestone_type":   models.MilestoneFundsDeposited,
		"milestone_status": models.MilestoneStatusCompleted,
	})
	return t, nil
}

// fundingAlreadyConfirmed reports whether t has already been funded with ref.
// Any other non-pending state is a conflict.
func fundingAlreadyConfirmed(t *models.EscrowTransaction, ref string) (bool, error) {
	switch t.Status {
	case models.EscrowStatusPending:
		return false, nil
	case models.EscrowStatusFundsHeld:
		if t.GatewayReference != nil && *t.GatewayReference == ref {
			return true, nil
		}
		return false, newError(ErrInvalidStateTransition, "transaction %s already funded under another reference", t.ID)
	default:
		return false, newError(ErrInvalidStateTransition, "transaction %s is %s, cannot confirm funding", t.ID, t.Status)
	}
}

// FailFunding records a payment that never completed. The transaction becomes
// failed and the funds_deposited milestone is marked failed in the same write.
func (s *EscrowService) FailFunding(ctx context.Context, transactionID uuid.UUID, gatewayReference, reason string) (*models.EscrowTransaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, s.reject("fail_funding", newError(ErrMissingReason, "failure reason is required"))
	}

	t, err := s.getTransaction(ctx, transactionID)
	if err != nil {
		return nil, s.reject("fail_funding", err)
	}
	if t.Status == models.EscrowStatusFailed {
		return t, nil
	}
	if t.Status != models.EscrowStatusPending {
		return nil, s.reject("fail_funding", newError(ErrInvalidStateTransition, "transaction %s is %s, cannot fail funding", t.ID, t.Status))
	}
	if gatewayReference != "" && t.GatewayReference != nil && *t.GatewayReference != gatewayReference {
		return nil, s.reject("fail_funding", newError(ErrInvalidStateTransition,
			"transaction %s expects session %s, got %s", t.ID, *t.GatewayReference, gatewayReference))
	}

	deposit, err := s.milestone(ctx, t.ID, models.MilestoneFundsDeposited)
	if err != nil {
		return nil, s.reject("fail_funding", err)
	}

	tr := repositories.Transition{
		TransactionID:  t.ID,
		ExpectedStatus: models.EscrowStatusPending,
		NewStatus:      models.EscrowStatusFailed,
		FailureReason:  &reason,
		Milestone: &repositories.MilestoneUpdate{
			ID:     deposit.ID,
			Status: models.MilestoneStatusFailed,
			Notes:  &reason,
		},
	}
	if gatewayReference != "" {
		tr.GatewayReference = &gatewayReference
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	err = s.ledger.ApplyTransition(sctx, tr)
	if errors.Is(err, repositories.ErrConflict) {
		current, rerr := s.getTransaction(ctx, t.ID)
		if rerr != nil {
			return nil, s.reject("fail_funding", rerr)
		}
		if current.Status == models.EscrowStatusFailed {
			return current, nil
		}
		return nil, s.reject("fail_funding", newError(ErrInvalidStateTransition, "transaction %s changed to %s", t.ID, current.Status))
	}
	if err != nil {
		return nil, s.reject("fail_funding", wrapError(ErrPersistenceFailure, err, "fail funding for %s", t.ID))
	}

	t.Status = models.EscrowStatusFailed
	t.FailureReason = &reason
	if gatewayReference != "" {
		t.GatewayReference = &gatewayReference
	}
	t.UpdatedAt = s.now().UTC()

	metrics.RecordEscrowTransition(models.EscrowStatusPending, models.EscrowStatusFailed)
	metrics.RecordMilestoneOutcome(models.MilestoneFundsDeposited, models.MilestoneStatusFailed)
	s.writeAudit(ctx, models.AuditLog{
		ActorType:  models.ActorTypeSystem,
		Action:     "escrow_funding_failed",
		EntityType: entityEscrowTransaction,
		EntityID:   &t.ID,
		Meta:       map[string]any{"reason": reason, "gateway_reference": gatewayReference},
	})
	s.notify(ctx, events.EventTransactionStatusChanged, t, map[string]any{
		"old_status": models.EscrowStatusPending,
		"reason":     reason,
	})
	return t, nil
}

// HandlePaymentOutcome consumes a gateway report for a checkout session.
// Pending outcomes leave the transaction untouched.
func (s *EscrowService) HandlePaymentOutcome(ctx context.Context, outcome payments.PaymentOutcome) (*models.EscrowTransaction, error) {
	if outcome.SessionRef == "" {
		return nil, s.reject("payment_outcome", newError(ErrMissingReference, "session reference is required"))
	}

	sctx, cancel := s.storeCtx(ctx)
	t, err := s.ledger.GetTransactionByGatewayRef(sctx, outcome.SessionRef)
	cancel()
	if err != nil {
		err = s.storeError(err, ErrTransactionNotFound, "no transaction for session %s", outcome.SessionRef)
		if outcome.Outcome == payments.OutcomeSuccess && KindOf(err) == KindNotFound {
			s.unmatchedPayment(ctx, nil, outcome, err)
		}
		return nil, s.reject("payment_outcome", err)
	}

	switch outcome.Outcome {
	case payments.OutcomeSuccess:
		if outcome.Amount != 0 && outcome.Amount != t.TotalCharged() {
			s.log.Error("gateway amount does not match escrow total",
				zap.String("transaction_id", t.ID.String()),
				zap.Int64("expected", t.TotalCharged()),
				zap.Int64("reported", outcome.Amount),
			)
			return nil, s.reject("payment_outcome", newError(ErrInvalidAmount,
				"session %s paid %d, expected %d", outcome.SessionRef, outcome.Amount, t.TotalCharged()))
		}
		confirmed, err := s.ConfirmFunding(ctx, t.ID, outcome.SessionRef)
		if KindOf(err) == KindStateConflict {
			s.unmatchedPayment(ctx, t, outcome, err)
		}
		return confirmed, err
	case payments.OutcomeFailed:
		reason := outcome.Message
		if reason == "" {
			reason = "payment failed at gateway"
		}
		return s.FailFunding(ctx, t.ID, outcome.SessionRef, reason)
	case payments.OutcomePending:
		return t, nil
	default:
		return nil, s.reject("payment_outcome", newError(ErrInvalidOutcome, "unknown payment outcome %q", outcome.Outcome))
	}
}

// RefreshPayment asks the gateway for the outcome of the transaction's checkout
// session and applies it. Used when the tenant returns from the hosted page
// before the webhook has arrived.
func (s *EscrowService) RefreshPayment(ctx context.Context, transactionID uuid.UUID) (*models.EscrowTransaction, error) {
	t, err := s.getTransaction(ctx, transactionID)
	if err != nil {
		return nil, s.reject("refresh_payment", err)
	}
	if t.Status != models.EscrowStatusPending || t.GatewayReference == nil {
		return t, nil
	}

	outcome, err := s.gatewayOutcome(ctx, t)
	if err != nil {
		return nil, s.reject("refresh_payment", err)
	}
	return s.HandlePaymentOutcome(ctx, *outcome)
}

// AdvanceMilestone completes or fails one of the actor-driven milestones.
// Completing funds_released releases the escrow; failing any milestone disputes it.
func (s *EscrowService) AdvanceMilestone(ctx context.Context, transactionID uuid.UUID, milestoneType, outcome string, actor Actor, notes *string) (*models.EscrowMilestone, error) {
	if actor.ID == uuid.Nil {
		return nil, s.reject("advance_milestone", newError(ErrMissingActor, "actor is required"))
	}
	if !models.IsAdvanceableMilestone(milestoneType) {
		return nil, s.reject("advance_milestone", newError(ErrInvalidMilestoneType, "milestone %q cannot be advanced directly", milestoneType))
	}
	if outcome != models.MilestoneStatusCompleted && outcome != models.MilestoneStatusFailed {
		return nil, s.reject("advance_milestone", newError(ErrInvalidOutcome, "outcome must be completed or failed, got %q", outcome))
	}

	t, err := s.getTransaction(ctx, transactionID)
	if err != nil {
		return nil, s.reject("advance_milestone", err)
	}
	if models.IsTerminalEscrowStatus(t.Status) || t.Status == models.EscrowStatusDisputed {
		return nil, s.reject("advance_milestone", newError(ErrInvalidStateTransition, "transaction %s is %s", t.ID, t.Status))
	}

	milestones, err := s.listMilestones(ctx, t.ID)
	if err != nil {
		return nil, s.reject("advance_milestone", err)
	}
	target, err := findMilestone(milestones, milestoneType, t.ID)
	if err != nil {
		return nil, s.reject("advance_milestone", err)
	}
	if models.IsFinalMilestoneStatus(target.Status) {
		return nil, s.reject("advance_milestone", newError(ErrMilestoneAlreadyFinal, "milestone %s is already %s", milestoneType, target.Status))
	}
	if outcome == models.MilestoneStatusCompleted {
		for _, m := range milestones {
			if m.Position < target.Position && m.Status != models.MilestoneStatusCompleted {
				return nil, s.reject("advance_milestone", newError(ErrOutOfOrderMilestone,
					"%s must be completed before %s", m.MilestoneType, milestoneType))
			}
		}
	}

	newStatus := ""
	switch {
	case outcome == models.MilestoneStatusFailed:
		newStatus = models.EscrowStatusDisputed
	case milestoneType == models.MilestoneFundsReleased:
		newStatus = models.EscrowStatusReleased
	}
	if newStatus != "" && !models.IsValidEscrowTransition(t.Status, newStatus) {
		return nil, s.reject("advance_milestone", newError(ErrInvalidStateTransition, "transaction %s cannot move from %s to %s", t.ID, t.Status, newStatus))
	}

	now := s.now().UTC()
	update := &repositories.MilestoneUpdate{
		ID:        target.ID,
		Status:    outcome,
		Notes:     notes,
		UpdatedBy: &actor.ID,
	}
	if outcome == models.MilestoneStatusCompleted {
		update.CompletedAt = &now
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	err = s.ledger.ApplyTransition(sctx, repositories.Transition{
		TransactionID:  t.ID,
		ExpectedStatus: t.Status,
		NewStatus:      newStatus,
		Milestone:      update,
	})
	if errors.Is(err, repositories.ErrConflict) {
		return nil, s.reject("advance_milestone", s.resolveMilestoneConflict(ctx, t.ID, milestoneType))
	}
	if err != nil {
		return nil, s.reject("advance_milestone", wrapError(ErrPersistenceFailure, err, "advance %s on %s", milestoneType, t.ID))
	}

	target.Status = outcome
	target.UpdatedBy = &actor.ID
	target.CompletedAt = update.CompletedAt
	target.UpdatedAt = now
	if notes != nil {
		target.Notes = notes
	}

	metrics.RecordMilestoneOutcome(milestoneType, outcome)
	s.writeAudit(ctx, models.AuditLog{
		ActorUserID: &actor.ID,
		ActorType:   auditActorType(actor.Role),
		Action:      fmt.Sprintf("escrow_milestone_%s_%s", milestoneType, outcome),
		EntityType:  entityEscrowTransaction,
		EntityID:    &t.ID,
		Meta: map[string]any{
			"milestone_id": target.ID.String(),
			"notes":        notes,
			"new_status":   newStatus,
		},
	})

	oldStatus := t.Status
	if newStatus != "" {
		t.Status = newStatus
		metrics.RecordEscrowTransition(oldStatus, newStatus)
	}
	s.notify(ctx, events.EventMilestoneChanged, t, map[string]any{
		"milestone_type":   milestoneType,
		"milestone_status": outcome,
		"actor_id":         actor.ID.String(),
	})
	if newStatus != "" {
		s.notify(ctx, events.EventTransactionStatusChanged, t, map[string]any{
			"old_status": oldStatus,
		})
	}

	s.log.Info("milestone advanced",
		zap.String("transaction_id", t.ID.String()),
		zap.String("milestone", milestoneType),
		zap.String("outcome", outcome),
		zap.String("actor_id", actor.ID.String()),
	)
	return target, nil
}

// resolveMilestoneConflict explains a lost compare-and-set after the fact.
func (s *EscrowService) resolveMilestoneConflict(ctx context.Context, transactionID uuid.UUID, milestoneType string) error {
	milestones, err := s.listMilestones(ctx, transactionID)
	if err != nil {
		return err
	}
	m, err := findMilestone(milestones, milestoneType, transactionID)
	if err != nil {
		return err
	}
	if models.IsFinalMilestoneStatus(m.Status) {
		return newError(ErrMilestoneAlreadyFinal, "milestone %s is already %s", milestoneType, m.Status)
	}
	return newError(ErrInvalidStateTransition, "transaction %s changed concurrently", transactionID)
}

func (s *EscrowService) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*models.EscrowTransactionWithMilestones, error) {
	t, err := s.getTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	milestones, err := s.listMilestones(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	return &models.EscrowTransactionWithMilestones{
		EscrowTransaction: *t,
		TotalCharged:      t.TotalCharged(),
		Milestones:        milestones,
	}, nil
}

func (s *EscrowService) ListMilestones(ctx context.Context, transactionID uuid.UUID) ([]models.EscrowMilestone, error) {
	if _, err := s.getTransaction(ctx, transactionID); err != nil {
		return nil, err
	}
	return s.listMilestones(ctx, transactionID)
}

func (s *EscrowService) ListTransactions(ctx context.Context, initiatorID uuid.UUID, limit, offset int) ([]models.EscrowTransaction, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	txs, err := s.ledger.ListByInitiator(sctx, initiatorID, limit, offset)
	if err != nil {
		return nil, wrapError(ErrPersistenceFailure, err, "list transactions")
	}
	return txs, nil
}

// TransactionEvents returns the audit trail of a transaction, newest first.
func (s *EscrowService) TransactionEvents(ctx context.Context, transactionID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if _, err := s.getTransaction(ctx, transactionID); err != nil {
		return nil, err
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	logs, err := s.audit.GetByEntity(sctx, entityEscrowTransaction, transactionID, limit, offset)
	if err != nil {
		return nil, wrapError(ErrPersistenceFailure, err, "list events for %s", transactionID)
	}
	return logs, nil
}

// AssignedAgent returns the agent of the transaction's property, if any.
func (s *EscrowService) AssignedAgent(ctx context.Context, transactionID uuid.UUID) (*uuid.UUID, error) {
	t, err := s.getTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	p, err := s.properties.GetProperty(sctx, t.PropertyID)
	if err != nil {
		return nil, s.storeError(err, ErrPropertyNotFound, "property %s", t.PropertyID)
	}
	return p.AgentID, nil
}

// ExpireStaleCheckouts settles pending transactions created more than olderThan
// ago. A transaction with any session the gateway reports as paid is confirmed;
// everything else is failed.
func (s *EscrowService) ExpireStaleCheckouts(ctx context.Context, olderThan time.Duration, batch int) (ExpiryReport, error) {
	var report ExpiryReport

	sctx, cancel := s.storeCtx(ctx)
	stale, err := s.ledger.ListStalePending(sctx, s.now().Add(-olderThan), batch)
	cancel()
	if err != nil {
		return report, wrapError(ErrPersistenceFailure, err, "list stale checkouts")
	}

	for _, t := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		if t.GatewayReference == nil {
			if _, err := s.FailFunding(ctx, t.ID, "", "checkout expired before payment started"); err != nil {
				s.log.Warn("expire checkout failed", zap.String("transaction_id", t.ID.String()), zap.Error(err))
				report.Skipped++
				continue
			}
			report.Failed++
			continue
		}

		outcome, err := s.gatewayOutcome(ctx, &t)
		if err != nil {
			s.log.Warn("verify payment failed",
				zap.String("transaction_id", t.ID.String()),
				zap.String("session_ref", *t.GatewayReference),
				zap.Error(err),
			)
			report.Skipped++
			continue
		}
		if outcome.Outcome == payments.OutcomePending {
			outcome.Outcome = payments.OutcomeFailed
			outcome.Message = "checkout expired"
		}

		settled, err := s.HandlePaymentOutcome(ctx, *outcome)
		if err != nil {
			s.log.Warn("settle stale checkout failed", zap.String("transaction_id", t.ID.String()), zap.Error(err))
			report.Skipped++
			continue
		}
		if settled.Status == models.EscrowStatusFundsHeld {
			report.Confirmed++
		} else {
			report.Failed++
		}
	}

	return report, nil
}

// sessionRefs lists every checkout session issued for t, oldest first. The
// current reference is always included.
func (s *EscrowService) sessionRefs(ctx context.Context, t *models.EscrowTransaction) ([]string, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	refs, err := s.ledger.ListSessionRefs(sctx, t.ID)
	if err != nil {
		return nil, wrapError(ErrPersistenceFailure, err, "list checkout sessions for %s", t.ID)
	}
	if t.GatewayReference != nil && !slices.Contains(refs, *t.GatewayReference) {
		refs = append(refs, *t.GatewayReference)
	}
	return refs, nil
}

// gatewayOutcome asks the gateway about every session of t, newest first, and
// returns the first paid one. Without a paid session it returns the outcome of
// the current session.
func (s *EscrowService) gatewayOutcome(ctx context.Context, t *models.EscrowTransaction) (*payments.PaymentOutcome, error) {
	refs, err := s.sessionRefs(ctx, t)
	if err != nil {
		return nil, err
	}
	var current *payments.PaymentOutcome
	for i := len(refs) - 1; i >= 0; i-- {
		out, err := s.gateway.VerifyPayment(ctx, refs[i])
		if err != nil {
			return nil, wrapError(ErrGatewayFailure, err, "verify session %s", refs[i])
		}
		if out.Outcome == payments.OutcomeSuccess {
			return out, nil
		}
		if t.GatewayReference != nil && refs[i] == *t.GatewayReference {
			current = out
		}
	}
	if current == nil {
		current = &payments.PaymentOutcome{Outcome: payments.OutcomePending}
		if t.GatewayReference != nil {
			current.SessionRef = *t.GatewayReference
		}
	}
	return current, nil
}

// unmatchedPayment records a captured charge that could not fund an escrow, so
// it can be reconciled or refunded by hand. t is nil when the session is unknown.
func (s *EscrowService) unmatchedPayment(ctx context.Context, t *models.EscrowTransaction, outcome payments.PaymentOutcome, cause error) {
	fields := []zap.Field{
		zap.String("session_ref", outcome.SessionRef),
		zap.Int64("amount", outcome.Amount),
		zap.Error(cause),
	}
	meta := map[string]any{
		"session_ref": outcome.SessionRef,
		"amount":      outcome.Amount,
		"reason":      cause.Error(),
	}
	entry := models.AuditLog{
		ActorType:  models.ActorTypeSystem,
		Action:     "escrow_payment_unmatched",
		EntityType: entityEscrowTransaction,
	}
	if t != nil {
		fields = append(fields, zap.String("transaction_id", t.ID.String()), zap.String("status", t.Status))
		meta["status"] = t.Status
		entry.EntityID = &t.ID
	}
	entry.Meta = meta

	s.log.Error("payment captured but not applied to escrow", fields...)
	s.writeAudit(ctx, entry)
}

func (s *EscrowService) getTransaction(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	t, err := s.ledger.GetTransaction(sctx, id)
	if err != nil {
		return nil, s.storeError(err, ErrTransactionNotFound, "transaction %s", id)
	}
	return t, nil
}

func (s *EscrowService) listMilestones(ctx context.Context, transactionID uuid.UUID) ([]models.EscrowMilestone, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	milestones, err := s.ledger.ListMilestones(sctx, transactionID)
	if err != nil {
		return nil, wrapError(ErrPersistenceFailure, err, "list milestones for %s", transactionID)
	}
	return milestones, nil
}

func (s *EscrowService) milestone(ctx context.Context, transactionID uuid.UUID, milestoneType string) (*models.EscrowMilestone, error) {
	milestones, err := s.listMilestones(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return findMilestone(milestones, milestoneType, transactionID)
}

func findMilestone(milestones []models.EscrowMilestone, milestoneType string, transactionID uuid.UUID) (*models.EscrowMilestone, error) {
	for i := range milestones {
		if milestones[i].MilestoneType == milestoneType {
			return &milestones[i], nil
		}
	}
	// Every transaction is created with the full set, so this is a broken store.
	return nil, newError(ErrPersistenceFailure, "transaction %s has no %s milestone", transactionID, milestoneType)
}

func (s *EscrowService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return withStoreTimeout(ctx, s.cfg)
}

// withStoreTimeout bounds a single store call by STORE_TIMEOUT_MS.
func withStoreTimeout(ctx context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	if cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.StoreTimeout)
}

func (s *EscrowService) storeError(err error, notFound *Error, format string, args ...any) *Error {
	if errors.Is(err, repositories.ErrNotFound) {
		return newError(notFound, format+" not found", args...)
	}
	return wrapError(ErrPersistenceFailure, err, format, args...)
}

// reject counts the rejection and passes err through.
func (s *EscrowService) reject(operation string, err error) error {
	if err == nil {
		return nil
	}
	metrics.RecordRejection(operation, CodeOf(err))
	if KindOf(err) == KindDependency {
		s.log.Error("escrow operation failed", zap.String("operation", operation), zap.Error(err))
	}
	return err
}

func (s *EscrowService) writeAudit(ctx context.Context, entry models.AuditLog) {
	sctx, cancel := s.storeCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.audit.Log(sctx, entry); err != nil {
		s.log.Warn("audit log write failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

func (s *EscrowService) notify(ctx context.Context, event string, t *models.EscrowTransaction, extra map[string]any) {
	payload := map[string]any{
		"transaction_id":    t.ID.String(),
		"property_id":       t.PropertyID.String(),
		"initiator_user_id": t.InitiatorUserID.String(),
		"status":            t.Status,
		"amount":            t.Amount,
		"transaction_type":  t.TransactionType,
		"tenant_name":       t.TenantName,
		"tenant_email":      t.TenantEmail,
	}
	if t.TenantPhone != nil {
		payload["tenant_phone"] = *t.TenantPhone
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.notifier.Notify(ctx, event, t.ID, payload)
}

func auditActorType(role string) string {
	switch role {
	case models.ActorTypeAdmin, models.ActorTypeAgent, models.ActorTypeSystem:
		return role
	default:
		return models.ActorTypeUser
	}
}
