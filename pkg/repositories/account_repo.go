package repositories

import (
	"context"

	"github.com/coinledger/coinledger/pkg/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// AccountRepository defines the store operations for ledger accounts.
type AccountRepository interface {
	// Upsert creates the account if absent and refreshes the display name
	// otherwise. Idempotent.
	Upsert(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, username string) (pgconn.CommandTag, error)
	// Exists reports whether an account row exists.
	Exists(ctx context.Context, q database.Querier, accountID uuid.UUID) (bool, error)
	// Count returns the total number of accounts.
	Count(ctx context.Context, q database.Querier) (int64, error)
	// AllIDs returns every account id.
	AllIDs(ctx context.Context, q database.Querier) ([]uuid.UUID, error)
}

type AccountRepositoryImpl struct {
}

func NewAccountRepository() AccountRepository {
	return &AccountRepositoryImpl{}
}

func (a AccountRepositoryImpl) Upsert(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, username string) (pgconn.CommandTag, error) {
	return tx.Exec(ctx, `INSERT INTO accounts (id, username, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			updated_at = NOW()`,
		accountID, username)
}

func (a AccountRepositoryImpl) Exists(ctx context.Context, q database.Querier, accountID uuid.UUID) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists)
	return exists, err
}

func (a AccountRepositoryImpl) Count(ctx context.Context, q database.Querier) (int64, error) {
	var count int64
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count)
	return count, err
}

func (a AccountRepositoryImpl) AllIDs(ctx context.Context, q database.Querier) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, `SELECT id FROM accounts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
