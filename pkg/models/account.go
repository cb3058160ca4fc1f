package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a ledger participant. Accounts are created on first
// balance-affecting interaction and never deleted by the service.
type Account struct {
	ID        uuid.UUID
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BalanceRow is a stored (account, currency) balance.
type BalanceRow struct {
	AccountID uuid.UUID
	Currency  string
	Balance   decimal.Decimal
}

// BalanceEntry is one leaderboard line: an account with its balance in a
// given currency, ordered descending by balance.
type BalanceEntry struct {
	AccountID uuid.UUID       `json:"accountId"`
	Username  string          `json:"username"`
	Balance   decimal.Decimal `json:"balance"`
}
