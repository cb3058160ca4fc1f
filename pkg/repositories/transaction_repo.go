package repositories

import (
	"context"

	"github.com/coinledger/coinledger/pkg/database"
	"github.com/coinledger/coinledger/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TransactionRepository appends to and reads the append-only transaction log.
// Entries are never updated or deleted here; retention is an external concern.
type TransactionRepository interface {
	// Append writes one log entry inside the caller's transaction. from is
	// nil for system-originated credits.
	Append(ctx context.Context, tx pgx.Tx, from *uuid.UUID, to uuid.UUID, currencyID string, amount decimal.Decimal, txType string) error
	// RecentByAccount returns the newest entries touching an account.
	RecentByAccount(ctx context.Context, q database.Querier, accountID uuid.UUID, limit int) ([]models.Transaction, error)
	// AllRows streams the full log, for snapshotting.
	AllRows(ctx context.Context, q database.Querier) ([]models.Transaction, error)
}

type TransactionRepositoryImpl struct {
}

func NewTransactionRepository() TransactionRepository {
	return &TransactionRepositoryImpl{}
}

func (t TransactionRepositoryImpl) Append(ctx context.Context, tx pgx.Tx, from *uuid.UUID, to uuid.UUID, currencyID string, amount decimal.Decimal, txType string) error {
	_, err := tx.Exec(ctx, `INSERT INTO transactions (from_account, to_account, currency, amount, type, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, NOW())`,
		from, to, currencyID, amount, txType)
	return err
}

func (t TransactionRepositoryImpl) RecentByAccount(ctx context.Context, q database.Querier, accountID uuid.UUID, limit int) ([]models.Transaction, error) {
	rows, err := q.Query(ctx, `SELECT id, from_account, to_account, currency, amount, type, created_at
		FROM transactions
		WHERE to_account = $1 OR from_account = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (t TransactionRepositoryImpl) AllRows(ctx context.Context, q database.Querier) ([]models.Transaction, error) {
	rows, err := q.Query(ctx, `SELECT id, from_account, to_account, currency, amount, type, created_at
		FROM transactions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	var out []models.Transaction
	for rows.Next() {
		var tr models.Transaction
		if err := rows.Scan(&tr.ID, &tr.From, &tr.To, &tr.Currency, &tr.Amount, &tr.Type, &tr.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
