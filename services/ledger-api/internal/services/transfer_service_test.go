package services

import (
	"context"
	"testing"
	"time"

	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/pkg/currency"
	"github.com/coinledger/coinledger/pkg/models"
	"github.com/coinledger/coinledger/services/ledger-api/internal/views"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeLedger satisfies LedgerService with in-memory balances so handshake
// logic can be exercised without a database.
type fakeLedger struct {
	accounts  map[uuid.UUID]bool
	balances  map[string]decimal.Decimal
	transfers int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts: make(map[uuid.UUID]bool),
		balances: make(map[string]decimal.Decimal),
	}
}

func balanceKey(id uuid.UUID, currencyID string) string {
	return id.String() + "|" + currencyID
}

func (f *fakeLedger) CreateAccount(_ context.Context, _ string, accountID uuid.UUID, _ string) error {
	f.accounts[accountID] = true
	return nil
}

func (f *fakeLedger) HasAccount(_ context.Context, _ string, accountID uuid.UUID) (bool, error) {
	return f.accounts[accountID], nil
}

func (f *fakeLedger) GetBalance(_ context.Context, _ string, accountID uuid.UUID, currencyID string) (decimal.NullDecimal, currency.Currency, error) {
	v, ok := f.balances[balanceKey(accountID, currencyID)]
	return decimal.NullDecimal{Decimal: v, Valid: ok}, currency.Currency{ID: currencyID}, nil
}

func (f *fakeLedger) SetBalance(_ context.Context, _ string, accountID uuid.UUID, currencyID string, amount decimal.Decimal) (decimal.Decimal, currency.Currency, error) {
	f.balances[balanceKey(accountID, currencyID)] = amount
	return amount, currency.Currency{ID: currencyID}, nil
}

func (f *fakeLedger) AddBalance(_ context.Context, _ string, accountID uuid.UUID, currencyID string, amount decimal.Decimal) (decimal.Decimal, currency.Currency, error) {
	k := balanceKey(accountID, currencyID)
	f.balances[k] = f.balances[k].Add(amount)
	return f.balances[k], currency.Currency{ID: currencyID}, nil
}

func (f *fakeLedger) RemoveBalance(_ context.Context, _ string, accountID uuid.UUID, currencyID string, amount decimal.Decimal) (decimal.Decimal, currency.Currency, error) {
	k := balanceKey(accountID, currencyID)
	f.balances[k] = f.balances[k].Sub(amount)
	return f.balances[k], currency.Currency{ID: currencyID}, nil
}

func (f *fakeLedger) Transfer(_ context.Context, _ string, from, to uuid.UUID, currencyID string, amount, tax decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	fromKey := balanceKey(from, currencyID)
	toKey := balanceKey(to, currencyID)
	total := amount.Add(tax)
	if f.balances[fromKey].LessThan(total) {
		return decimal.Decimal{}, decimal.Decimal{}, pkg.NewAppError(pkg.ErrInsufficientFundsCode, "insufficient funds", nil)
	}
	f.balances[fromKey] = f.balances[fromKey].Sub(total)
	f.balances[toKey] = f.balances[toKey].Add(amount)
	f.transfers++
	return f.balances[fromKey], f.balances[toKey], nil
}

func (f *fakeLedger) TransactionHistory(context.Context, string, uuid.UUID, int) ([]models.Transaction, error) {
	return nil, nil
}

func (f *fakeLedger) Disconnect(uuid.UUID) {}

func testCurrencies(t *testing.T) *currency.Holder {
	t.Helper()
	payEnabled := true
	payDisabled := false
	registry := currency.Load(zap.NewNop(), map[string]currency.Config{
		"lira": {
			DisplayName:      "Lira",
			PayEnabled:       &payEnabled,
			PayMinAmount:     1,
			PayMaxAmount:     1000,
			PayTaxPercentage: 0.10,
			Default:          true,
		},
		"gem": {
			DisplayName: "Gem",
			PayEnabled:  &payDisabled,
		},
	}, []string{"lira", "gem"})
	return currency.NewHolder(registry)
}

func newTransferFixture(t *testing.T, ttl time.Duration) (*fakeLedger, *PendingStore, TransferService) {
	t.Helper()
	ledger := newFakeLedger()
	pending := NewPendingStore(ttl)
	limiter := pkg.NewDistributedLimiter(nil, "test:transfer_rate", 0, 1, time.Minute, zap.NewNop())
	svc := NewTransferService(zap.NewNop(), testCurrencies(t), ledger, pending, limiter)
	return ledger, pending, svc
}

func fundedAccounts(ledger *fakeLedger, balance decimal.Decimal) (uuid.UUID, uuid.UUID) {
	from := uuid.New()
	to := uuid.New()
	ledger.accounts[from] = true
	ledger.accounts[to] = true
	ledger.balances[balanceKey(from, "lira")] = balance
	return from, to
}

func TestTransferRequest_Success(t *testing.T) {
	// Arrange
	ledger, pending, svc := newTransferFixture(t, time.Minute)
	from, to := fundedAccounts(ledger, decimal.NewFromInt(500))

	// Act
	preview, err := svc.Request(context.Background(), "trace", views.TransferRequest{
		From: from, To: to, Currency: "lira", Amount: decimal.NewFromInt(100),
	})

	// Assert
	require.NoError(t, err)
	assert.True(t, preview.Amount.Equal(decimal.NewFromInt(100)))
	assert.True(t, preview.Tax.Equal(decimal.NewFromInt(10)), "10%% tax expected, got %s", preview.Tax)
	assert.True(t, preview.Total.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, 1, pending.Len())
	assert.Equal(t, 0, ledger.transfers, "request alone must not move funds")
}

func TestTransferRequest_UnknownCurrency(t *testing.T) {
	ledger, _, svc := newTransferFixture(t, time.Minute)
	from, to := fundedAccounts(ledger, decimal.NewFromInt(500))

	_, err := svc.Request(context.Background(), "trace", views.TransferRequest{
		From: from, To: to, Currency: "doge", Amount: decimal.NewFromInt(10),
	})

	assert.True(t, pkg.IsCode(err, pkg.ErrUnknownCurrencyCode))
}

func TestTransferRequest_PayDisabled(t *testing.T) {
	ledger, _, svc := newTransferFixture(t, time.Minute)
	from, to := fundedAccounts(ledger, decimal.NewFromInt(500))

	_, err := svc.Request(context.Background(), "trace", views.TransferRequest{
		From: from, To: to, Currency: "gem", Amount: decimal.NewFromInt(10),
	})

	assert.True(t, pkg.IsCode(err, pkg.ErrPayDisabledCode))
}

func TestTransferRequest_SelfTransfer(t *testing.T) {
	ledger, _, svc := newTransferFixture(t, time.Minute)
	from, _ := fundedAccounts(ledger, decimal.NewFromInt(500))

	_, err := svc.Request(context.Background(), "trace", views.TransferRequest{
		From: from, To: from, Currency: "lira", Amount: decimal.NewFromInt(10),
	})

	assert.True(t, pkg.IsCode(err, pkg.ErrSelfTransferCode))
}

func TestTransferRequest_OutsidePayLimits(t *testing.T) {
	ledger, _, svc := newTransferFixture(t, time.Minute)
	from, to := fundedAccounts(ledger, decimal.NewFromInt(5000))

	_, err := svc.Request(context.Background(), "trace", views.TransferRequest{
		From: from, To: to, Currency: "lira", Amount: decimal.NewFromInt(2000), // above pay-max 1000
	})

	assert.True(t, pkg.IsCode(err, pkg.ErrInvalidAmountCode))
}

func TestTransferRequest_InsufficientFundsPreview(t *testing.T) {
	ledger, pending, svc := newTransferFixture(t, time.Minute)
	from, to := fundedAccounts(ledger, decimal.NewFromInt(100)) // 100 < 100 + 10 tax

	_, err := svc.Request(context.Background(), "trace", views.TransferRequest{
		From: from, To: to, Currency: "lira", Amount: decimal.NewFromInt(100),
	})

	assert.True(t, pkg.IsCode(err, pkg.ErrInsufficientFundsCode))
	assert.Equal(t, 0, pending.Len())
}

func TestTransferRequest_AccountNotFound(t *testing.T) {
	ledger, _, svc := newTransferFixture(t, time.Minute)
	from, _ := fundedAccounts(ledger, decimal.NewFromInt(500))

	_, err := svc.Request(context.Background(), "trace", views.TransferRequest{
		From: from, To: uuid.New(), Currency: "lira", Amount: decimal.NewFromInt(10),
	})

	assert.True(t, pkg.IsCode(err, pkg.ErrAccountNotFoundCode))
}

func TestTransferConfirm_MovesFundsOnce(t *testing.T) {
	// Arrange
	ledger, _, svc := newTransferFixture(t, time.Minute)
	from, to := fundedAccounts(ledger, decimal.NewFromInt(500))
	_, err := svc.Request(context.Background(), "trace", views.TransferRequest{
		From: from, To: to, Currency: "lira", Amount: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	// Act
	result, err := svc.Confirm(context.Background(), "trace", from)

	// Assert
	require.NoError(t, err)
	assert.True(t, result.SenderBalance.Equal(decimal.NewFromInt(390)), "500 - 100 - 10 tax, got %s", result.SenderBalance)
	assert.True(t, result.ReceiverBalance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 1, ledger.transfers)

	// A second confirm has nothing to execute.
	_, err = svc.Confirm(context.Background(), "trace", from)
	assert.True(t, pkg.IsCode(err, pkg.ErrNoPendingCode))
	assert.Equal(t, 1, ledger.transfers)
}

func TestTransferConfirm_NoPending(t *testing.T) {
	_, _, svc := newTransferFixture(t, time.Minute)

	_, err := svc.Confirm(context.Background(), "trace", uuid.New())

	assert.True(t, pkg.IsCode(err, pkg.ErrNoPendingCode))
}

func TestTransferConfirm_Expired(t *testing.T) {
	ledger, pending, svc := newTransferFixture(t, time.Minute)
	from, to := fundedAccounts(ledger, decimal.NewFromInt(500))
	_, err := svc.Request(context.Background(), "trace", views.TransferRequest{
		From: from, To: to, Currency: "lira", Amount: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	// Move the clock past the TTL.
	pending.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err = svc.Confirm(context.Background(), "trace", from)

	assert.True(t, pkg.IsCode(err, pkg.ErrExpiredCode))
	assert.Equal(t, 0, ledger.transfers)
}

func TestTransferRequest_SupersedesPrevious(t *testing.T) {
	ledger, pending, svc := newTransferFixture(t, time.Minute)
	from, to := fundedAccounts(ledger, decimal.NewFromInt(500))

	_, err := svc.Request(context.Background(), "trace", views.TransferRequest{
		From: from, To: to, Currency: "lira", Amount: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	_, err = svc.Request(context.Background(), "trace", views.TransferRequest{
		From: from, To: to, Currency: "lira", Amount: decimal.NewFromInt(50),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, pending.Len(), "second request must replace the first")

	result, err := svc.Confirm(context.Background(), "trace", from)
	require.NoError(t, err)
	assert.True(t, result.Amount.Equal(decimal.NewFromInt(50)))
}

func TestTransferRequest_RateLimited(t *testing.T) {
	ledger := newFakeLedger()
	pending := NewPendingStore(time.Minute)
	// 1 req/sec with burst 1: the second immediate request must be refused.
	limiter := pkg.NewDistributedLimiter(nil, "test:transfer_rate", 1, 1, time.Minute, zap.NewNop())
	svc := NewTransferService(zap.NewNop(), testCurrencies(t), ledger, pending, limiter)
	from, to := fundedAccounts(ledger, decimal.NewFromInt(500))

	_, err := svc.Request(context.Background(), "trace", views.TransferRequest{
		From: from, To: to, Currency: "lira", Amount: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	_, err = svc.Request(context.Background(), "trace", views.TransferRequest{
		From: from, To: to, Currency: "lira", Amount: decimal.NewFromInt(10),
	})
	assert.True(t, pkg.IsCode(err, pkg.ErrRateLimitedCode))
}
