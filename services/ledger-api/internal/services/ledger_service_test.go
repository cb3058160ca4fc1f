package services

import (
	"context"
	"testing"

	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/pkg/cache"
	"github.com/coinledger/coinledger/pkg/currency"
	"github.com/coinledger/coinledger/pkg/database"
	"github.com/coinledger/coinledger/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-memory Store shared by the repository fakes below. Its
// WithTransaction snapshots the whole state up front and restores it when the
// closure errors, mirroring the rollback the real transaction gives us.
type memStore struct {
	accounts map[uuid.UUID]string
	balances map[string]decimal.Decimal
	log      []models.Transaction
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[uuid.UUID]string),
		balances: make(map[string]decimal.Decimal),
	}
}

func (m *memStore) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (m *memStore) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (m *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	accounts := make(map[uuid.UUID]string, len(m.accounts))
	for k, v := range m.accounts {
		accounts[k] = v
	}
	balances := make(map[string]decimal.Decimal, len(m.balances))
	for k, v := range m.balances {
		balances[k] = v
	}
	log := append([]models.Transaction(nil), m.log...)

	if err := fn(ctx, nil); err != nil {
		m.accounts, m.balances, m.log = accounts, balances, log
		return err
	}
	return nil
}

type memAccountRepo struct {
	store *memStore
}

func (r *memAccountRepo) Upsert(_ context.Context, _ pgx.Tx, accountID uuid.UUID, username string) (pgconn.CommandTag, error) {
	r.store.accounts[accountID] = username
	return pgconn.CommandTag{}, nil
}

func (r *memAccountRepo) Exists(_ context.Context, _ database.Querier, accountID uuid.UUID) (bool, error) {
	_, ok := r.store.accounts[accountID]
	return ok, nil
}

func (r *memAccountRepo) Count(context.Context, database.Querier) (int64, error) {
	return int64(len(r.store.accounts)), nil
}

func (r *memAccountRepo) AllIDs(context.Context, database.Querier) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(r.store.accounts))
	for id := range r.store.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}

// memBalanceRepo applies the same bound rules the SQL statements enforce:
// Add and Deduct refuse by returning an invalid NullDecimal, never a partial
// write.
type memBalanceRepo struct {
	store *memStore
}

func (r *memBalanceRepo) Get(_ context.Context, _ database.Querier, accountID uuid.UUID, currencyID string) (decimal.NullDecimal, error) {
	v, ok := r.store.balances[balanceKey(accountID, currencyID)]
	return decimal.NullDecimal{Decimal: v, Valid: ok}, nil
}

func (r *memBalanceRepo) Put(_ context.Context, _ pgx.Tx, accountID uuid.UUID, currencyID string, amount decimal.Decimal) error {
	r.store.balances[balanceKey(accountID, currencyID)] = amount
	return nil
}

func (r *memBalanceRepo) EnsureRow(_ context.Context, _ pgx.Tx, accountID uuid.UUID, currencyID string, starter decimal.Decimal) (bool, error) {
	k := balanceKey(accountID, currencyID)
	if _, ok := r.store.balances[k]; ok {
		return false, nil
	}
	r.store.balances[k] = starter
	return true, nil
}

func (r *memBalanceRepo) Add(_ context.Context, _ pgx.Tx, accountID uuid.UUID, currencyID string, amount, minBalance, maxBalance decimal.Decimal) (decimal.NullDecimal, error) {
	k := balanceKey(accountID, currencyID)
	held, ok := r.store.balances[k]
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	next := held.Add(amount)
	if maxBalance.Sign() >= 0 && next.GreaterThan(maxBalance) {
		return decimal.NullDecimal{}, nil
	}
	if next.LessThan(minBalance) {
		return decimal.NullDecimal{}, nil
	}
	r.store.balances[k] = next
	return decimal.NullDecimal{Decimal: next, Valid: true}, nil
}

func (r *memBalanceRepo) Deduct(_ context.Context, _ pgx.Tx, accountID uuid.UUID, currencyID string, amount, minBalance decimal.Decimal) (decimal.NullDecimal, error) {
	k := balanceKey(accountID, currencyID)
	held, ok := r.store.balances[k]
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	next := held.Sub(amount)
	if held.LessThan(amount) || next.LessThan(minBalance) {
		return decimal.NullDecimal{}, nil
	}
	r.store.balances[k] = next
	return decimal.NullDecimal{Decimal: next, Valid: true}, nil
}

func (r *memBalanceRepo) LockForUpdate(_ context.Context, _ pgx.Tx, accountID uuid.UUID, currencyID string) (decimal.NullDecimal, error) {
	v, ok := r.store.balances[balanceKey(accountID, currencyID)]
	return decimal.NullDecimal{Decimal: v, Valid: ok}, nil
}

func (r *memBalanceRepo) Top(context.Context, database.Querier, string, int, int) ([]models.BalanceEntry, error) {
	return nil, nil
}

func (r *memBalanceRepo) CountHigher(context.Context, database.Querier, string, decimal.Decimal) (int64, error) {
	return 0, nil
}

func (r *memBalanceRepo) AllRows(context.Context, database.Querier) ([]models.BalanceRow, error) {
	return nil, nil
}

type memTxRepo struct {
	store *memStore
}

func (r *memTxRepo) Append(_ context.Context, _ pgx.Tx, from *uuid.UUID, to uuid.UUID, currencyID string, amount decimal.Decimal, txType string) error {
	r.store.log = append(r.store.log, models.Transaction{
		ID:       int64(len(r.store.log) + 1),
		From:     from,
		To:       to,
		Currency: currencyID,
		Amount:   amount,
		Type:     txType,
	})
	return nil
}

func (r *memTxRepo) RecentByAccount(_ context.Context, _ database.Querier, accountID uuid.UUID, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	for i := len(r.store.log) - 1; i >= 0 && len(out) < limit; i-- {
		tr := r.store.log[i]
		if tr.To == accountID || (tr.From != nil && *tr.From == accountID) {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (r *memTxRepo) AllRows(context.Context, database.Querier) ([]models.Transaction, error) {
	return append([]models.Transaction(nil), r.store.log...), nil
}

type captureEvents struct {
	events []TransactionEvent
}

func (c *captureEvents) PublishTransaction(event TransactionEvent) {
	c.events = append(c.events, event)
}

func (c *captureEvents) Close() {}

// lira: starter 100, unbounded. token: starter 50, floor 10, ceiling 200.
func ledgerTestCurrencies(t *testing.T) *currency.Holder {
	t.Helper()
	registry := currency.Load(zap.NewNop(), map[string]currency.Config{
		"lira":  {DisplayName: "Lira", StarterBalance: 100, Default: true},
		"token": {DisplayName: "Token", StarterBalance: 50, MinBalance: 10, MaxBalance: 200},
	}, []string{"lira", "token"})
	return currency.NewHolder(registry)
}

func newLedgerFixture(t *testing.T) (*memStore, *captureEvents, LedgerService) {
	t.Helper()
	store := newMemStore()
	events := &captureEvents{}
	svc := NewLedgerService(zap.NewNop(), store, ledgerTestCurrencies(t), cache.NewBalanceCache(100),
		&memAccountRepo{store: store}, &memBalanceRepo{store: store}, &memTxRepo{store: store}, events)
	return store, events, svc
}

func logTypes(store *memStore) []string {
	types := make([]string, 0, len(store.log))
	for _, tr := range store.log {
		types = append(types, tr.Type)
	}
	return types
}

func TestAddBalance_GrantsStarterOnFirstWrite(t *testing.T) {
	// Arrange
	store, events, svc := newLedgerFixture(t)
	accountID := uuid.New()
	store.accounts[accountID] = "alice"

	// Act
	balance, cur, err := svc.AddBalance(context.Background(), "trace", accountID, "lira", decimal.NewFromInt(50))

	// Assert: starter 100 materialized durably, then the credit applied.
	require.NoError(t, err)
	assert.Equal(t, "lira", cur.ID)
	assert.True(t, balance.Equal(decimal.NewFromInt(150)))
	assert.True(t, store.balances[balanceKey(accountID, "lira")].Equal(decimal.NewFromInt(150)))
	assert.Equal(t, []string{"STARTER", "GIVE"}, logTypes(store))
	require.Len(t, events.events, 1)
	assert.Equal(t, pkg.TransactionTypeGive, events.events[0].Type)
}

func TestGetBalance_FreshAccountReadsNothingAndWritesNothing(t *testing.T) {
	store, _, svc := newLedgerFixture(t)
	accountID := uuid.New()
	store.accounts[accountID] = "alice"

	stored, cur, err := svc.GetBalance(context.Background(), "trace", accountID, "lira")

	require.NoError(t, err)
	assert.False(t, stored.Valid, "a read must not invent a balance")
	assert.True(t, cur.StarterBalance.Equal(decimal.NewFromInt(100)))
	assert.Empty(t, store.balances, "reads never materialize rows")
}

func TestGetBalance_ServedFromCacheAfterMutation(t *testing.T) {
	// Arrange
	store, _, svc := newLedgerFixture(t)
	accountID := uuid.New()
	store.accounts[accountID] = "alice"
	_, _, err := svc.AddBalance(context.Background(), "trace", accountID, "lira", decimal.NewFromInt(50))
	require.NoError(t, err)

	// Tamper with the store behind the cache. A coherent cache keeps
	// serving the committed post-mutation value.
	store.balances[balanceKey(accountID, "lira")] = decimal.NewFromInt(999)

	// Act
	stored, _, err := svc.GetBalance(context.Background(), "trace", accountID, "lira")

	// Assert
	require.NoError(t, err)
	require.True(t, stored.Valid)
	assert.True(t, stored.Decimal.Equal(decimal.NewFromInt(150)), "expected the cached committed value, got %s", stored.Decimal)

	// Disconnect drops the cached entries; the next read hits the store.
	svc.Disconnect(accountID)
	stored, _, err = svc.GetBalance(context.Background(), "trace", accountID, "lira")
	require.NoError(t, err)
	assert.True(t, stored.Decimal.Equal(decimal.NewFromInt(999)))
}

func TestRemoveBalance_InsufficientFunds(t *testing.T) {
	// token starter is 50; removing 60 is refused for lack of funds, and the
	// rollback takes the starter grant with it.
	store, events, svc := newLedgerFixture(t)
	accountID := uuid.New()
	store.accounts[accountID] = "alice"

	_, _, err := svc.RemoveBalance(context.Background(), "trace", accountID, "token", decimal.NewFromInt(60))

	assert.True(t, pkg.IsCode(err, pkg.ErrInsufficientFundsCode))
	assert.Empty(t, store.balances, "refused mutation must leave no row behind")
	assert.Empty(t, store.log)
	assert.Empty(t, events.events)
}

func TestRemoveBalance_MinBoundViolation(t *testing.T) {
	// 50 covers a 45 debit, but the result 5 would sit under the floor of 10;
	// that is a bounds refusal, not an insufficient-funds one.
	store, _, svc := newLedgerFixture(t)
	accountID := uuid.New()
	store.accounts[accountID] = "alice"

	_, _, err := svc.RemoveBalance(context.Background(), "trace", accountID, "token", decimal.NewFromInt(45))

	assert.True(t, pkg.IsCode(err, pkg.ErrBalanceOutOfBoundsCode))
	assert.Empty(t, store.balances)
}

func TestSetBalance_OutOfBounds(t *testing.T) {
	store, _, svc := newLedgerFixture(t)
	accountID := uuid.New()
	store.accounts[accountID] = "alice"

	_, _, err := svc.SetBalance(context.Background(), "trace", accountID, "token", decimal.NewFromInt(500))

	assert.True(t, pkg.IsCode(err, pkg.ErrBalanceOutOfBoundsCode))
	assert.Empty(t, store.balances)
}

func TestTransfer_DebitsTotalCreditsAmount(t *testing.T) {
	// Arrange
	store, events, svc := newLedgerFixture(t)
	from := uuid.New()
	to := uuid.New()
	store.accounts[from] = "alice"
	store.accounts[to] = "bob"
	store.balances[balanceKey(from, "lira")] = decimal.NewFromInt(500)

	// Act
	senderBalance, receiverBalance, err := svc.Transfer(context.Background(), "trace",
		from, to, "lira", decimal.NewFromInt(100), decimal.NewFromInt(10))

	// Assert: sender pays amount plus tax, receiver gets starter plus amount.
	require.NoError(t, err)
	assert.True(t, senderBalance.Equal(decimal.NewFromInt(390)), "500 - 100 - 10 tax, got %s", senderBalance)
	assert.True(t, receiverBalance.Equal(decimal.NewFromInt(200)), "starter 100 + 100, got %s", receiverBalance)
	assert.Equal(t, []string{"STARTER", "PAY"}, logTypes(store))
	require.Len(t, events.events, 1)
	assert.Equal(t, pkg.TransactionTypePay, events.events[0].Type)
}

func TestTransfer_RefusedLeavesBothBalancesUntouched(t *testing.T) {
	// Arrange: the credit would push the receiver over token's ceiling of
	// 200, after the sender debit already applied inside the transaction.
	store, events, svc := newLedgerFixture(t)
	from := uuid.New()
	to := uuid.New()
	store.accounts[from] = "alice"
	store.accounts[to] = "bob"
	store.balances[balanceKey(from, "token")] = decimal.NewFromInt(100)
	store.balances[balanceKey(to, "token")] = decimal.NewFromInt(180)

	// Act
	_, _, err := svc.Transfer(context.Background(), "trace",
		from, to, "token", decimal.NewFromInt(30), decimal.Zero)

	// Assert: the rollback undoes the debit; neither balance moved.
	assert.True(t, pkg.IsCode(err, pkg.ErrBalanceOutOfBoundsCode))
	assert.True(t, store.balances[balanceKey(from, "token")].Equal(decimal.NewFromInt(100)))
	assert.True(t, store.balances[balanceKey(to, "token")].Equal(decimal.NewFromInt(180)))
	assert.Empty(t, store.log)
	assert.Empty(t, events.events)

	// The failed attempt must not poison the read path either.
	stored, _, err := svc.GetBalance(context.Background(), "trace", from, "token")
	require.NoError(t, err)
	assert.True(t, stored.Decimal.Equal(decimal.NewFromInt(100)))
}

func TestTransfer_InsufficientForAmountPlusTax(t *testing.T) {
	store, _, svc := newLedgerFixture(t)
	from := uuid.New()
	to := uuid.New()
	store.accounts[from] = "alice"
	store.accounts[to] = "bob"
	store.balances[balanceKey(from, "lira")] = decimal.NewFromInt(105)

	// 105 covers the amount but not amount plus tax.
	_, _, err := svc.Transfer(context.Background(), "trace",
		from, to, "lira", decimal.NewFromInt(100), decimal.NewFromInt(10))

	assert.True(t, pkg.IsCode(err, pkg.ErrInsufficientFundsCode))
	assert.True(t, store.balances[balanceKey(from, "lira")].Equal(decimal.NewFromInt(105)))
}

func TestTransfer_CeilingAppliesToAmountPlusTax(t *testing.T) {
	store, _, svc := newLedgerFixture(t)
	from := uuid.New()
	to := uuid.New()
	store.accounts[from] = "alice"
	store.accounts[to] = "bob"

	// The amount alone sits exactly at the ceiling; the tax pushes the full
	// debit past it.
	_, _, err := svc.Transfer(context.Background(), "trace",
		from, to, "lira", overflowCeiling, decimal.NewFromInt(1))

	assert.True(t, pkg.IsCode(err, pkg.ErrOverflowCode))
	assert.Empty(t, store.balances)
}

func TestTransfer_UnknownAccount(t *testing.T) {
	store, _, svc := newLedgerFixture(t)
	from := uuid.New()
	store.accounts[from] = "alice"
	store.balances[balanceKey(from, "lira")] = decimal.NewFromInt(500)

	_, _, err := svc.Transfer(context.Background(), "trace",
		from, uuid.New(), "lira", decimal.NewFromInt(10), decimal.Zero)

	assert.True(t, pkg.IsCode(err, pkg.ErrAccountNotFoundCode))
	assert.True(t, store.balances[balanceKey(from, "lira")].Equal(decimal.NewFromInt(500)))
}
