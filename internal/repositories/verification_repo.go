package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rental-marketplace/backend/internal/models"
)

type VerificationRepo struct {
	pool *pgxpool.Pool
}

func NewVerificationRepo(pool *pgxpool.Pool) *VerificationRepo {
	return &VerificationRepo{pool: pool}
}

func (r *VerificationRepo) Create(ctx context.Context, a *models.VerificationApplication) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO agent_verification_applications (agent_user_id, agency_name, license_number, contact_email, document_urls, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, a.AgentUserID, a.AgencyName, a.LicenseNumber, a.ContactEmail, a.DocumentURLs, a.Status).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (r *VerificationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.VerificationApplication, error) {
	var a models.VerificationApplication
	err := r.pool.QueryRow(ctx, `
		SELECT id, agent_user_id, agency_name, license_number, contact_email, document_urls, status, created_at, updated_at
		FROM agent_verification_applications WHERE id = $1
	`, id).Scan(&a.ID, &a.AgentUserID, &a.AgencyName, &a.LicenseNumber, &a.ContactEmail, &a.DocumentURLs, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &a, nil
}

// ChangeStatus moves the application from the expected status and appends the
// log entry in the same database transaction.
func (r *VerificationRepo) ChangeStatus(ctx context.Context, entry *models.VerificationStatusLogEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE agent_verification_applications SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, entry.NewStatus, entry.ApplicationID, entry.PreviousStatus)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO verification_status_log (application_id, previous_status, new_status, reason, notes, actor_user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, entry.ApplicationID, entry.PreviousStatus, entry.NewStatus, entry.Reason, entry.Notes, entry.ActorUserID,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append status log: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *VerificationRepo) History(ctx context.Context, applicationID uuid.UUID) ([]models.VerificationStatusLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, application_id, previous_status, new_status, reason, notes, actor_user_id, created_at
		FROM verification_status_log WHERE application_id = $1
		ORDER BY created_at ASC, id ASC
	`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.VerificationStatusLogEntry
	for rows.Next() {
		var e models.VerificationStatusLogEntry
		if err := rows.Scan(&e.ID, &e.ApplicationID, &e.PreviousStatus, &e.NewStatus, &e.Reason, &e.Notes, &e.ActorUserID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
