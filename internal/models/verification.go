package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent verification statuses
const (
	VerificationStatusPending          = "pending"
	VerificationStatusUnderReview      = "under_review"
	VerificationStatusRequiresMoreInfo = "requires_more_info"
	VerificationStatusApproved         = "approved"
	VerificationStatusRejected         = "rejected"
)

var ValidVerificationTransitions = map[string][]string{
	VerificationStatusPending:          {VerificationStatusUnderReview, VerificationStatusRejected},
	VerificationStatusUnderReview:      {VerificationStatusApproved, VerificationStatusRejected, VerificationStatusRequiresMoreInfo},
	VerificationStatusRequiresMoreInfo: {VerificationStatusUnderReview, VerificationStatusRejected},
	VerificationStatusApproved:         {},
	VerificationStatusRejected:         {},
}

func IsValidVerificationTransition(from, to string) bool {
	for _, s := range ValidVerificationTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type VerificationApplication struct {
	ID            uuid.UUID `json:"id"`
	AgentUserID   uuid.UUID `json:"agent_user_id"`
	AgencyName    string    `json:"agency_name"`
	LicenseNumber string    `json:"license_number"`
	ContactEmail  string    `json:"contact_email"`
	DocumentURLs  []string  `json:"document_urls"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// VerificationStatusLogEntry is written once per status change and never modified.
type VerificationStatusLogEntry struct {
	ID             uuid.UUID `json:"id"`
	ApplicationID  uuid.UUID `json:"application_id"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Reason         string    `json:"reason"`
	Notes          *string   `json:"notes,omitempty"`
	ActorUserID    uuid.UUID `json:"actor_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}
