package dto

import "github.com/shopspring/decimal"

type CreateEscrowRequest struct {
	PropertyID      string          `json:"property_id" validate:"required,uuid"`
	Amount          decimal.Decimal `json:"amount"` // minor units; number or string
	TenantName      string          `json:"tenant_name"`
	TenantEmail     string          `json:"tenant_email"`
	TenantPhone     *string         `json:"tenant_phone,omitempty" validate:"omitempty,e164"`
	TransactionType string          `json:"transaction_type" validate:"required"`
}

type AdvanceMilestoneRequest struct {
	Outcome string  `json:"outcome" validate:"required"` // completed / failed
	Notes   *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

type SubmitVerificationRequest struct {
	AgencyName    string   `json:"agency_name"`
	LicenseNumber string   `json:"license_number"`
	ContactEmail  string   `json:"contact_email"`
	DocumentURLs  []string `json:"document_urls"`
}

type ChangeVerificationStatusRequest struct {
	Status string  `json:"status" validate:"required"`
	Reason string  `json:"reason"`
	Notes  *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}
