package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rental-marketplace/backend/internal/http/dto"
	"github.com/rental-marketplace/backend/internal/models"
)

type MetaHandler struct {
	currency string
}

func NewMetaHandler(currency string) *MetaHandler {
	return &MetaHandler{currency: currency}
}

type MetaOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type EscrowMeta struct {
	Currency          string       `json:"currency"`
	FeeRate           string       `json:"fee_rate"`
	TransactionTypes  []MetaOption `json:"transaction_types"`
	Statuses          []string     `json:"statuses"`
	MilestoneOrder    []MetaOption `json:"milestone_order"`
	MilestoneOutcomes []string     `json:"milestone_outcomes"`
}

var transactionTypeLabels = []MetaOption{
	{ID: models.TransactionTypeRentDeposit, Label: "Rent deposit"},
	{ID: models.TransactionTypeSecurityDeposit, Label: "Security deposit"},
	{ID: models.TransactionTypeFirstMonthRent, Label: "First month rent"},
	{ID: models.TransactionTypeLastMonthRent, Label: "Last month rent"},
}

var milestoneLabels = []MetaOption{
	{ID: models.MilestoneFundsDeposited, Label: "Funds deposited"},
	{ID: models.MilestoneAgreementVerified, Label: "Agreement verified"},
	{ID: models.MilestoneKeysTransferred, Label: "Keys transferred"},
	{ID: models.MilestoneFundsReleased, Label: "Funds released"},
}

var verificationStatuses = []string{
	models.VerificationStatusPending,
	models.VerificationStatusUnderReview,
	models.VerificationStatusRequiresMoreInfo,
	models.VerificationStatusApproved,
	models.VerificationStatusRejected,
}

func (h *MetaHandler) GetEscrowMeta(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: EscrowMeta{
		Currency:         h.currency,
		FeeRate:          models.EscrowFeeRate.String(),
		TransactionTypes: transactionTypeLabels,
		Statuses: []string{
			models.EscrowStatusPending,
			models.EscrowStatusFundsHeld,
			models.EscrowStatusReleased,
			models.EscrowStatusDisputed,
			models.EscrowStatusFailed,
		},
		MilestoneOrder:    milestoneLabels,
		MilestoneOutcomes: []string{models.MilestoneStatusCompleted, models.MilestoneStatusFailed},
	}})
}

func (h *MetaHandler) GetVerificationStatuses(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: verificationStatuses})
}
