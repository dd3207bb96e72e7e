package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rental-marketplace/backend/internal/config"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/payments"
	"github.com/rental-marketplace/backend/internal/repositories"
	"go.uber.org/zap"
)

var errStoreDown = errors.New("connection refused")

// memLedger mirrors the conditional-update semantics of repositories.EscrowRepo.
type memLedger struct {
	mu         sync.Mutex
	txs        map[uuid.UUID]*models.EscrowTransaction
	milestones map[uuid.UUID][]models.EscrowMilestone
	sessions   map[string]uuid.UUID
	// sessionOrder keeps issue order, like created_at in escrow_checkout_sessions.
	sessionOrder []string
	now          func() time.Time

	insertErr   error
	applyErr    error
	sessionsErr error
	// beforeApply runs ahead of ApplyTransition's checks, outside the lock.
	beforeApply func()
	applyCalls  int
}

func newMemLedger() *memLedger {
	return &memLedger{
		txs:        map[uuid.UUID]*models.EscrowTransaction{},
		milestones: map[uuid.UUID][]models.EscrowMilestone{},
		sessions:   map[string]uuid.UUID{},
		now:        time.Now,
	}
}

func (l *memLedger) InsertTransactionWithMilestones(_ context.Context, t *models.EscrowTransaction, milestones []*models.EscrowMilestone) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.insertErr != nil {
		return l.insertErr
	}
	t.ID = uuid.New()
	t.CreatedAt = l.now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	l.txs[t.ID] = &cp

	rows := make([]models.EscrowMilestone, 0, len(milestones))
	for _, m := range milestones {
		m.ID = uuid.New()
		m.TransactionID = t.ID
		m.CreatedAt = t.CreatedAt
		m.UpdatedAt = t.CreatedAt
		rows = append(rows, *m)
	}
	l.milestones[t.ID] = rows
	return nil
}

func (l *memLedger) GetTransaction(_ context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.txs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (l *memLedger) GetTransactionByGatewayRef(_ context.Context, ref string) (*models.EscrowTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.sessions[ref]; ok {
		cp := *l.txs[id]
		return &cp, nil
	}
	for _, t := range l.txs {
		if t.GatewayReference != nil && *t.GatewayReference == ref {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (l *memLedger) ListByInitiator(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.EscrowTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.EscrowTransaction
	for _, t := range l.txs {
		if t.InitiatorUserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (l *memLedger) ListStalePending(_ context.Context, createdBefore time.Time, limit int) ([]models.EscrowTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.EscrowTransaction
	for _, t := range l.txs {
		if t.Status == models.EscrowStatusPending && t.CreatedAt.Before(createdBefore) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (l *memLedger) ListMilestones(_ context.Context, transactionID uuid.UUID) ([]models.EscrowMilestone, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows := l.milestones[transactionID]
	out := make([]models.EscrowMilestone, len(rows))
	copy(out, rows)
	return out, nil
}

func (l *memLedger) SetGatewayReference(_ context.Context, id uuid.UUID, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.txs[id]
	if !ok || t.Status != models.EscrowStatusPending {
		return repositories.ErrConflict
	}
	t.GatewayReference = &ref
	if _, ok := l.sessions[ref]; !ok {
		l.sessions[ref] = id
		l.sessionOrder = append(l.sessionOrder, ref)
	}
	return nil
}

func (l *memLedger) ListSessionRefs(_ context.Context, transactionID uuid.UUID) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sessionsErr != nil {
		return nil, l.sessionsErr
	}
	var out []string
	for _, ref := range l.sessionOrder {
		if l.sessions[ref] == transactionID {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (l *memLedger) ApplyTransition(_ context.Context, tr repositories.Transition) error {
	if l.beforeApply != nil {
		l.beforeApply()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyCalls++
	if l.applyErr != nil {
		return l.applyErr
	}

	t, ok := l.txs[tr.TransactionID]
	if !ok {
		return repositories.ErrConflict
	}
	rows := l.milestones[tr.TransactionID]
	idx := -1
	if m := tr.Milestone; m != nil {
		for i := range rows {
			if rows[i].ID == m.ID && rows[i].Status == models.MilestoneStatusPending {
				idx = i
			}
		}
		if idx < 0 {
			return repositories.ErrConflict
		}
	}
	if t.Status != tr.ExpectedStatus {
		return repositories.ErrConflict
	}

	if m := tr.Milestone; m != nil {
		rows[idx].Status = m.Status
		rows[idx].CompletedAt = m.CompletedAt
		rows[idx].UpdatedBy = m.UpdatedBy
		if m.Notes != nil {
			rows[idx].Notes = m.Notes
		}
	}
	if tr.NewStatus != "" {
		t.Status = tr.NewStatus
	}
	if tr.GatewayReference != nil {
		t.GatewayReference = tr.GatewayReference
	}
	if tr.FailureReason != nil {
		t.FailureReason = tr.FailureReason
	}
	return nil
}

// force sets state directly, bypassing the conditional checks.
func (l *memLedger) force(id uuid.UUID, fn func(t *models.EscrowTransaction, ms []models.EscrowMilestone)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.txs[id], l.milestones[id])
}

func (l *memLedger) milestoneStatus(id uuid.UUID, milestoneType string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.milestones[id] {
		if m.MilestoneType == milestoneType {
			return m.Status
		}
	}
	return ""
}

type memProperties map[uuid.UUID]*models.Property

func (p memProperties) GetProperty(_ context.Context, id uuid.UUID) (*models.Property, error) {
	prop, ok := p[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return prop, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (a *memAudit) Log(_ context.Context, entry models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memAudit) GetByEntity(_ context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditLog
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *memAudit) last(action string) *models.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].Action == action {
			e := a.entries[i]
			return &e
		}
	}
	return nil
}

func (a *memAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

type sentNotification struct {
	Event    string
	EntityID uuid.UUID
	Payload  map[string]any
}

type memNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *memNotifier) Notify(_ context.Context, event string, entityID uuid.UUID, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{Event: event, EntityID: entityID, Payload: payload})
}

func (n *memNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.Event == event {
			c++
		}
	}
	return c
}

type fakeGateway struct {
	mu        sync.Mutex
	requests  []payments.CheckoutRequest
	outcomes  map[string]payments.PaymentOutcome
	initErr   error
	verifyErr error
}

func (g *fakeGateway) InitiateCheckout(_ context.Context, req payments.CheckoutRequest) (*payments.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initErr != nil {
		return nil, g.initErr
	}
	g.requests = append(g.requests, req)
	ref := payments.NewSessionRef(req.TransactionID)
	return &payments.CheckoutSession{RedirectURL: "https://checkout.example/" + ref, SessionRef: ref}, nil
}

func (g *fakeGateway) VerifyPayment(_ context.Context, sessionRef string) (*payments.PaymentOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	out, ok := g.outcomes[sessionRef]
	if !ok {
		return &payments.PaymentOutcome{SessionRef: sessionRef, Outcome: payments.OutcomePending}, nil
	}
	return &out, nil
}

type escrowFixture struct {
	svc        *EscrowService
	ledger     *memLedger
	properties memProperties
	audit      *memAudit
	notifier   *memNotifier
	gateway    *fakeGateway
	propertyID uuid.UUID
	agentID    uuid.UUID
	tenantID   uuid.UUID
}

func newEscrowFixture() *escrowFixture {
	f := &escrowFixture{
		ledger:     newMemLedger(),
		properties: memProperties{},
		audit:      &memAudit{},
		notifier:   &memNotifier{},
		gateway:    &fakeGateway{outcomes: map[string]payments.PaymentOutcome{}},
		propertyID: uuid.New(),
		agentID:    uuid.New(),
		tenantID:   uuid.New(),
	}
	agent := f.agentID
	f.properties[f.propertyID] = &models.Property{
		ID:         f.propertyID,
		LandlordID: uuid.New(),
		AgentID:    &agent,
		Title:      "2 bedroom flat, Lekki",
		City:       "Lagos",
		AnnualRent: 100000,
		Status:     models.PropertyStatusAvailable,
	}

	cfg := &config.Config{
		Currency:           "NGN",
		GatewayCallbackURL: "https://app.example/escrow/callback",
		StoreTimeout:       time.Second,
	}
	f.svc = NewEscrowService(f.ledger, f.properties, f.audit, f.gateway, f.notifier, cfg, zap.NewNop())
	return f
}
