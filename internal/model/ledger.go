package model

import "time"

// TransactionReason records why a balance changed
type TransactionReason string

const (
	ReasonPurchase   TransactionReason = "purchase"
	ReasonGeneration TransactionReason = "generation"
	ReasonRefund     TransactionReason = "refund"
	ReasonGrant      TransactionReason = "grant"
)

var ValidTransactionReasons = []TransactionReason{
	ReasonPurchase, ReasonGeneration, ReasonRefund, ReasonGrant,
}

// Valid reports whether r is a known reason
func (r TransactionReason) Valid() bool {
	for _, v := range ValidTransactionReasons {
		if r == v {
			return true
		}
	}
	return false
}

// Wallet is a user's current credit balance
type Wallet struct {
	UserID    string    `json:"userId"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Transaction is an immutable record of a balance change. Amount is
// positive for credits and negative for debits.
type Transaction struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Amount    int64             `json:"amount"`
	Reason    TransactionReason `json:"reason"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Transaction metadata keys
const (
	MetaJobID     = "jobId"
	MetaTask      = "task"
	MetaReference = "reference"
	MetaCause     = "cause"
)

// BalanceResponse represents the response for the balance endpoint
type BalanceResponse struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}

// HistoryResponse represents the response for the history endpoint
type HistoryResponse struct {
	History []Transaction `json:"history"`
}

// TopUpRequest represents a completed credit pack purchase
type TopUpRequest struct {
	UserID      string `json:"userId" validate:"required"`
	AmountCents int64  `json:"amountCents" validate:"required,min=1"`
	Reference   string `json:"reference" validate:"omitempty,max=200"`
}

// TopUpResponse represents the response after crediting a purchase
type TopUpResponse struct {
	UserID  string `json:"userId"`
	Credits int64  `json:"credits"`
	Balance int64  `json:"balance"`
}
