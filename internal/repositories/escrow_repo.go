package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rental-marketplace/backend/internal/models"
)

const transactionColumns = `
	id, property_id, initiator_user_id, tenant_name, tenant_email, tenant_phone,
	amount, escrow_fee, transaction_type, status, gateway_reference, failure_reason,
	created_at, updated_at`

const milestoneColumns = `
	id, transaction_id, milestone_type, position, status, notes, updated_by,
	completed_at, created_at, updated_at`

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

// Transition is a compare-and-set against the current transaction status,
// optionally paired with a milestone update. Both writes commit together or not at all.
type Transition struct {
	TransactionID    uuid.UUID
	ExpectedStatus   string
	NewStatus        string // empty keeps the status; it is still checked against ExpectedStatus
	GatewayReference *string
	FailureReason    *string
	Milestone        *MilestoneUpdate
}

// MilestoneUpdate only applies to a milestone that is still pending.
type MilestoneUpdate struct {
	ID          uuid.UUID
	Status      string
	CompletedAt *time.Time
	Notes       *string
	UpdatedBy   *uuid.UUID
}

func (r *EscrowRepo) InsertTransactionWithMilestones(ctx context.Context, t *models.EscrowTransaction, milestones []*models.EscrowMilestone) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO escrow_transactions (property_id, initiator_user_id, tenant_name, tenant_email, tenant_phone,
		                                 amount, escrow_fee, transaction_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, t.PropertyID, t.InitiatorUserID, t.TenantName, t.TenantEmail, t.TenantPhone,
		t.Amount, t.EscrowFee, t.TransactionType, t.Status,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	for _, m := range milestones {
		m.TransactionID = t.ID
		err := tx.QueryRow(ctx, `
			INSERT INTO escrow_milestones (transaction_id, milestone_type, position, status)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at, updated_at
		`, m.TransactionID, m.MilestoneType, m.Position, m.Status).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert milestone %s: %w", m.MilestoneType, err)
		}
	}

	return tx.Commit(ctx)
}

func (r *EscrowRepo) GetTransaction(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM escrow_transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// GetTransactionByGatewayRef resolves any checkout session ever issued for a
// transaction, not only the current one.
func (r *EscrowRepo) GetTransactionByGatewayRef(ctx context.Context, ref string) (*models.EscrowTransaction, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM escrow_transactions
		WHERE id = (SELECT transaction_id FROM escrow_checkout_sessions WHERE session_ref = $1)
	`, ref)
	return scanTransaction(row)
}

// ListSessionRefs returns every checkout session of a transaction, oldest first.
func (r *EscrowRepo) ListSessionRefs(ctx context.Context, transactionID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT session_ref FROM escrow_checkout_sessions
		WHERE transaction_id = $1
		ORDER BY created_at ASC, session_ref ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *EscrowRepo) ListByInitiator(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.EscrowTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM escrow_transactions WHERE initiator_user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListStalePending returns pending transactions created before the cutoff, oldest first.
func (r *EscrowRepo) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.EscrowTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM escrow_transactions WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (r *EscrowRepo) ListMilestones(ctx context.Context, transactionID uuid.UUID) ([]models.EscrowMilestone, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+milestoneColumns+`
		FROM escrow_milestones WHERE transaction_id = $1
		ORDER BY position ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var milestones []models.EscrowMilestone
	for rows.Next() {
		var m models.EscrowMilestone
		if err := rows.Scan(&m.ID, &m.TransactionID, &m.MilestoneType, &m.Position, &m.Status, &m.Notes,
			&m.UpdatedBy, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		milestones = append(milestones, m)
	}
	return milestones, rows.Err()
}

// SetGatewayReference makes ref the current checkout session while the
// transaction is still pending. Earlier sessions stay resolvable.
func (r *EscrowRepo) SetGatewayReference(ctx context.Context, id uuid.UUID, ref string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE escrow_transactions SET gateway_reference = $1, updated_at = now()
		WHERE id = $2 AND status = 'pending'
	`, ref, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO escrow_checkout_sessions (session_ref, transaction_id) VALUES ($1, $2)
		ON CONFLICT (session_ref) DO NOTHING
	`, ref, id); err != nil {
		return fmt.Errorf("record checkout session: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *EscrowRepo) ApplyTransition(ctx context.Context, t Transition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if m := t.Milestone; m != nil {
		tag, err := tx.Exec(ctx, `
			UPDATE escrow_milestones
			SET status = $1, completed_at = $2, notes = COALESCE($3, notes), updated_by = $4, updated_at = now()
			WHERE id = $5 AND transaction_id = $6 AND status = 'pending'
		`, m.Status, m.CompletedAt, m.Notes, m.UpdatedBy, m.ID, t.TransactionID)
		if err != nil {
			return fmt.Errorf("update milestone: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE escrow_transactions
		SET status = COALESCE(NULLIF($1, ''), status),
		    gateway_reference = COALESCE($2, gateway_reference),
		    failure_reason = COALESCE($3, failure_reason),
		    updated_at = now()
		WHERE id = $4 AND status = $5
	`, t.NewStatus, t.GatewayReference, t.FailureReason, t.TransactionID, t.ExpectedStatus)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	return tx.Commit(ctx)
}

func scanTransaction(row pgx.Row) (*models.EscrowTransaction, error) {
	var t models.EscrowTransaction
	err := row.Scan(&t.ID, &t.PropertyID, &t.InitiatorUserID, &t.TenantName, &t.TenantEmail, &t.TenantPhone,
		&t.Amount, &t.EscrowFee, &t.TransactionType, &t.Status, &t.GatewayReference, &t.FailureReason,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &t, nil
}

func collectTransactions(rows pgx.Rows) ([]models.EscrowTransaction, error) {
	var out []models.EscrowTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
