package views

import (
	"time"

	"github.com/coinledger/coinledger/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountRequest registers or refreshes an account. The id travels in the
// URL; the body only carries the display name.
type AccountRequest struct {
	Username string `json:"username" binding:"required,max=64"`
}

// AmountRequest carries a single amount for set/add/remove operations.
// Amount validity (positive, finite, within currency bounds) is a service
// concern since decimals do not fit the binding validators.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// BalanceResponse reports the effective balance. Set distinguishes a stored
// balance from the starter substituted for an account that never touched the
// currency.
type BalanceResponse struct {
	AccountID uuid.UUID       `json:"accountId"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Set       bool            `json:"set"`
	Formatted string          `json:"formatted"`
}

// TransferRequest opens a pending transfer. Nothing moves until the sender
// confirms within the TTL.
type TransferRequest struct {
	From     uuid.UUID       `json:"from" binding:"required"`
	To       uuid.UUID       `json:"to" binding:"required"`
	Currency string          `json:"currency" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
}

// TransferConfirmRequest confirms the sender's most recent pending transfer.
type TransferConfirmRequest struct {
	From uuid.UUID `json:"from" binding:"required"`
}

// TransferPreviewResponse echoes the terms the sender is asked to confirm.
type TransferPreviewResponse struct {
	From      uuid.UUID       `json:"from"`
	To        uuid.UUID       `json:"to"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"` // amount + tax, debited from the sender
	ExpiresAt time.Time       `json:"expiresAt"`
}

// TransferResultResponse reports the committed transfer with both post-commit
// balances.
type TransferResultResponse struct {
	From            uuid.UUID       `json:"from"`
	To              uuid.UUID       `json:"to"`
	Currency        string          `json:"currency"`
	Amount          decimal.Decimal `json:"amount"`
	Tax             decimal.Decimal `json:"tax"`
	SenderBalance   decimal.Decimal `json:"senderBalance"`
	ReceiverBalance decimal.Decimal `json:"receiverBalance"`
}

type LeaderboardResponse struct {
	Currency      string                `json:"currency"`
	Page          int                   `json:"page"`
	TotalPages    int                   `json:"totalPages"`
	PageSize      int                   `json:"pageSize"`
	TotalAccounts int64                 `json:"totalAccounts"`
	Entries       []models.BalanceEntry `json:"entries"`
}

type RankResponse struct {
	AccountID uuid.UUID       `json:"accountId"`
	Currency  string          `json:"currency"`
	Rank      int64           `json:"rank"` // 1-based
	Balance   decimal.Decimal `json:"balance"`
}

type CurrencyResponse struct {
	ID            string          `json:"id"`
	DisplayName   string          `json:"displayName"`
	Symbol        string          `json:"symbol"`
	NameSingular  string          `json:"nameSingular"`
	NamePlural    string          `json:"namePlural"`
	DecimalPlaces int             `json:"decimalPlaces"`
	PayEnabled    bool            `json:"payEnabled"`
	Default       bool            `json:"default"`
	MinBalance    decimal.Decimal `json:"minBalance"`
	MaxBalance    decimal.Decimal `json:"maxBalance"` // -1 = unbounded
}
