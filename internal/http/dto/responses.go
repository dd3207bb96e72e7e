package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type CheckoutResponse struct {
	TransactionID string `json:"transaction_id"`
	RedirectURL   string `json:"redirect_url"`
	SessionRef    string `json:"session_ref"`
	TotalCharged  int64  `json:"total_charged"`
}

type FeePreviewResponse struct {
	Amount  int64  `json:"amount"`
	Fee     int64  `json:"fee"`
	Total   int64  `json:"total"`
	FeeRate string `json:"fee_rate"`
}

type ListResponse struct {
	Items  any `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
