package models

import "github.com/shopspring/decimal"

// EscrowFeeRate is the platform fee charged on top of the escrowed amount.
var EscrowFeeRate = decimal.RequireFromString("0.025")

type FeeBreakdown struct {
	Amount int64 `json:"amount"`
	Fee    int64 `json:"fee"`
	Total  int64 `json:"total"`
}

// ComputeFeeBreakdown returns the fee (rounded half-up to a whole minor unit)
// and the total the tenant is charged. Used for previews and persisted records alike.
func ComputeFeeBreakdown(amount int64) FeeBreakdown {
	fee := decimal.NewFromInt(amount).Mul(EscrowFeeRate).Round(0).IntPart()
	return FeeBreakdown{
		Amount: amount,
		Fee:    fee,
		Total:  amount + fee,
	}
}
