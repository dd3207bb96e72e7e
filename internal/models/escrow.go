package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction types
const (
	TransactionTypeRentDeposit     = "rent_deposit"
	TransactionTypeSecurityDeposit = "security_deposit"
	TransactionTypeFirstMonthRent  = "first_month_rent"
	TransactionTypeLastMonthRent   = "last_month_rent"
)

var TransactionTypes = []string{
	TransactionTypeRentDeposit,
	TransactionTypeSecurityDeposit,
	TransactionTypeFirstMonthRent,
	TransactionTypeLastMonthRent,
}

func IsValidTransactionType(t string) bool {
	for _, v := range TransactionTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Escrow transaction statuses
const (
	EscrowStatusPending   = "pending"
	EscrowStatusFundsHeld = "funds_held"
	EscrowStatusReleased  = "released"
	EscrowStatusDisputed  = "disputed"
	EscrowStatusFailed    = "failed"
)

// ValidEscrowTransitions lists the transitions the lifecycle manager may apply.
// disputed -> funds_held | failed is resolved by a human outside the lifecycle manager,
// but the table still records it so operators' tooling can validate against it.
var ValidEscrowTransitions = map[string][]string{
	EscrowStatusPending:   {EscrowStatusFundsHeld, EscrowStatusFailed, EscrowStatusDisputed},
	EscrowStatusFundsHeld: {EscrowStatusReleased, EscrowStatusDisputed},
	EscrowStatusDisputed:  {EscrowStatusFundsHeld, EscrowStatusFailed},
	EscrowStatusReleased:  {},
	EscrowStatusFailed:    {},
}

func IsValidEscrowTransition(from, to string) bool {
	allowed, ok := ValidEscrowTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalEscrowStatus(status string) bool {
	return status == EscrowStatusReleased || status == EscrowStatusFailed
}

// Milestone types, in the order they must complete.
const (
	MilestoneFundsDeposited    = "funds_deposited"
	MilestoneAgreementVerified = "agreement_verified"
	MilestoneKeysTransferred   = "keys_transferred"
	MilestoneFundsReleased     = "funds_released"
)

var MilestoneOrder = []string{
	MilestoneFundsDeposited,
	MilestoneAgreementVerified,
	MilestoneKeysTransferred,
	MilestoneFundsReleased,
}

// MilestonePosition returns the zero-based position of a milestone type, or -1.
func MilestonePosition(milestoneType string) int {
	for i, m := range MilestoneOrder {
		if m == milestoneType {
			return i
		}
	}
	return -1
}

// IsAdvanceableMilestone reports whether actors may advance the milestone directly.
// funds_deposited only moves on gateway confirmation.
func IsAdvanceableMilestone(milestoneType string) bool {
	return MilestonePosition(milestoneType) > 0
}

// Milestone statuses
const (
	MilestoneStatusPending   = "pending"
	MilestoneStatusCompleted = "completed"
	MilestoneStatusFailed    = "failed"
)

func IsFinalMilestoneStatus(status string) bool {
	return status == MilestoneStatusCompleted || status == MilestoneStatusFailed
}

type EscrowTransaction struct {
	ID               uuid.UUID `json:"id"`
	PropertyID       uuid.UUID `json:"property_id"`
	InitiatorUserID  uuid.UUID `json:"initiator_user_id"`
	TenantName       string    `json:"tenant_name"`
	TenantEmail      string    `json:"tenant_email"`
	TenantPhone      *string   `json:"tenant_phone,omitempty"`
	Amount           int64     `json:"amount"` // minor currency unit
	EscrowFee        int64     `json:"escrow_fee"`
	TransactionType  string    `json:"transaction_type"`
	Status           string    `json:"status"`
	GatewayReference *string   `json:"gateway_reference,omitempty"`
	FailureReason    *string   `json:"failure_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TotalCharged is what the tenant pays at checkout.
func (t *EscrowTransaction) TotalCharged() int64 {
	return t.Amount + t.EscrowFee
}

type EscrowMilestone struct {
	ID            uuid.UUID  `json:"id"`
	TransactionID uuid.UUID  `json:"transaction_id"`
	MilestoneType string     `json:"milestone_type"`
	Position      int        `json:"position"`
	Status        string     `json:"status"`
	Notes         *string    `json:"notes,omitempty"`
	UpdatedBy     *uuid.UUID `json:"updated_by,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// EscrowTransactionWithMilestones is the dashboard view of a transaction.
type EscrowTransactionWithMilestones struct {
	EscrowTransaction
	TotalCharged int64             `json:"total_charged"`
	Milestones   []EscrowMilestone `json:"milestones"`
}
