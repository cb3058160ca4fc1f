package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is one append-only ledger log entry. From is nil for
// system-originated credits (starter grants, admin give/set).
// Rows are never mutated or deleted by the service.
type Transaction struct {
	ID        int64           `json:"id"`
	From      *uuid.UUID      `json:"from,omitempty"`
	To        uuid.UUID       `json:"to"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"createdAt"`
}
