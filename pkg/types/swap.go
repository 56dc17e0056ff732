package types

import "github.com/shopspring/decimal"

// SwapRequest represents a user's swap command
type SwapRequest struct {
	Amount      decimal.Decimal
	SourceToken string
	DestToken   string
}

// QuoteDisplay holds formatted quote information for display
type QuoteDisplay struct {
	Aggregator     string `json:"aggregator"`
	SourceAmount   string `json:"source_amount"`
	SourceToken    string `json:"source_token"`
	DestAmount     string `json:"dest_amount"`
	DestToken      string `json:"dest_token"`
	Rate           string `json:"rate"`
	SlippageBps    int    `json:"slippage_bps"`
	ExpiresAt      string `json:"expires_at"`
	DepositAddress string `json:"deposit_address,omitempty"`
}

// SwapStatus represents the current status of a swap
type SwapStatus struct {
	Signature string `json:"signature"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Slot      uint64 `json:"slot,omitempty"`
	AttemptID string `json:"attempt_id,omitempty"`
}
