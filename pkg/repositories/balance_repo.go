package repositories

import (
	"context"
	"errors"

	"github.com/coinledger/coinledger/pkg/database"
	"github.com/coinledger/coinledger/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// BalanceRepository defines the store operations for per-(account, currency)
// balances. A missing row is "uninitialized", surfaced as an invalid
// decimal.NullDecimal, which is distinct from a zero balance, so callers can
// substitute the currency's starter balance.
//
// Overdraft prevention is pushed into the store: Add and Deduct evaluate
// their bounds inside the same UPDATE statement that writes, so two
// concurrent mutations on one row cannot both pass a stale check.
type BalanceRepository interface {
	// Get returns the stored balance, invalid if no row exists.
	Get(ctx context.Context, q database.Querier, accountID uuid.UUID, currencyID string) (decimal.NullDecimal, error)
	// Put upserts the balance row unconditionally.
	Put(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, currencyID string, amount decimal.Decimal) error
	// EnsureRow inserts a starter-balance row if none exists. Reports whether
	// it inserted, i.e. whether the starter grant materialized just now.
	EnsureRow(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, currencyID string, starter decimal.Decimal) (bool, error)
	// Add credits amount atomically, enforcing the max-balance bound in the
	// statement. Returns the post-add balance, invalid if the bound (or a
	// missing row) refused the write.
	Add(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, currencyID string, amount, minBalance, maxBalance decimal.Decimal) (decimal.NullDecimal, error)
	// Deduct debits amount atomically, enforcing sufficient funds and the
	// min-balance bound in the statement. Returns the post-deduct balance,
	// invalid if refused.
	Deduct(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, currencyID string, amount, minBalance decimal.Decimal) (decimal.NullDecimal, error)
	// LockForUpdate reads the balance under a row lock held until the
	// surrounding transaction ends. Invalid if no row exists.
	LockForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, currencyID string) (decimal.NullDecimal, error)
	// Top returns the highest balances for a currency, descending, ties in
	// stable arbitrary order.
	Top(ctx context.Context, q database.Querier, currencyID string, limit, offset int) ([]models.BalanceEntry, error)
	// CountHigher returns how many balance rows in a currency strictly exceed
	// the given balance.
	CountHigher(ctx context.Context, q database.Querier, currencyID string, balance decimal.Decimal) (int64, error)
	// AllRows streams every balance row, for snapshotting.
	AllRows(ctx context.Context, q database.Querier) ([]models.BalanceRow, error)
}

type BalanceRepositoryImpl struct {
}

func NewBalanceRepository() BalanceRepository {
	return &BalanceRepositoryImpl{}
}

func (b BalanceRepositoryImpl) Get(ctx context.Context, q database.Querier, accountID uuid.UUID, currencyID string) (decimal.NullDecimal, error) {
	var balance decimal.Decimal
	err := q.QueryRow(ctx, `SELECT balance FROM balances WHERE account_id = $1 AND currency = $2`,
		accountID, currencyID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.NullDecimal{}, nil
	}
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: balance, Valid: true}, nil
}

func (b BalanceRepositoryImpl) Put(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, currencyID string, amount decimal.Decimal) error {
	_, err := tx.Exec(ctx, `INSERT INTO balances (account_id, currency, balance)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (account_id, currency) DO UPDATE SET balance = excluded.balance`,
		accountID, currencyID, amount)
	return err
}

func (b BalanceRepositoryImpl) EnsureRow(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, currencyID string, starter decimal.Decimal) (bool, error) {
	tag, err := tx.Exec(ctx, `INSERT INTO balances (account_id, currency, balance)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (account_id, currency) DO NOTHING`,
		accountID, currencyID, starter)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (b BalanceRepositoryImpl) Add(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, currencyID string, amount, minBalance, maxBalance decimal.Decimal) (decimal.NullDecimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `UPDATE balances SET balance = balance + $3::numeric
		WHERE account_id = $1 AND currency = $2
			AND ($5::numeric < 0 OR balance + $3::numeric <= $5::numeric)
			AND balance + $3::numeric >= $4::numeric
		RETURNING balance`,
		accountID, currencyID, amount, minBalance, maxBalance).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.NullDecimal{}, nil
	}
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: balance, Valid: true}, nil
}

func (b BalanceRepositoryImpl) Deduct(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, currencyID string, amount, minBalance decimal.Decimal) (decimal.NullDecimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `UPDATE balances SET balance = balance - $3::numeric
		WHERE account_id = $1 AND currency = $2
			AND balance >= $3::numeric
			AND balance - $3::numeric >= $4::numeric
		RETURNING balance`,
		accountID, currencyID, amount, minBalance).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.NullDecimal{}, nil
	}
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: balance, Valid: true}, nil
}

func (b BalanceRepositoryImpl) LockForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, currencyID string) (decimal.NullDecimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `SELECT balance FROM balances WHERE account_id = $1 AND currency = $2 FOR UPDATE`,
		accountID, currencyID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.NullDecimal{}, nil
	}
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: balance, Valid: true}, nil
}

func (b BalanceRepositoryImpl) Top(ctx context.Context, q database.Querier, currencyID string, limit, offset int) ([]models.BalanceEntry, error) {
	rows, err := q.Query(ctx, `SELECT a.id, a.username, b.balance
		FROM balances b
		JOIN accounts a ON b.account_id = a.id
		WHERE b.currency = $1
		ORDER BY b.balance DESC, a.id
		LIMIT $2 OFFSET $3`,
		currencyID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.BalanceEntry
	for rows.Next() {
		var e models.BalanceEntry
		if err := rows.Scan(&e.AccountID, &e.Username, &e.Balance); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (b BalanceRepositoryImpl) CountHigher(ctx context.Context, q database.Querier, currencyID string, balance decimal.Decimal) (int64, error) {
	var count int64
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM balances WHERE currency = $1 AND balance > $2::numeric`,
		currencyID, balance).Scan(&count)
	return count, err
}

func (b BalanceRepositoryImpl) AllRows(ctx context.Context, q database.Querier) ([]models.BalanceRow, error) {
	rows, err := q.Query(ctx, `SELECT account_id, currency, balance FROM balances ORDER BY account_id, currency`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BalanceRow
	for rows.Next() {
		var r models.BalanceRow
		if err := rows.Scan(&r.AccountID, &r.Currency, &r.Balance); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
