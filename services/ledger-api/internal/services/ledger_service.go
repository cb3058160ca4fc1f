package services

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/pkg/cache"
	"github.com/coinledger/coinledger/pkg/currency"
	"github.com/coinledger/coinledger/pkg/database"
	"github.com/coinledger/coinledger/pkg/models"
	"github.com/coinledger/coinledger/pkg/repositories"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// overflowCeiling rejects absurd amounts before they reach the store, keeping
// balance arithmetic far away from numeric range errors.
var overflowCeiling = decimal.NewFromFloat(math.MaxFloat64 / 2)

const defaultHistoryLimit = 20
const maxHistoryLimit = 100

// Store is the database surface the ledger needs: routed reads plus the
// transactional write path that rolls everything back when the closure
// errors. *database.DB satisfies it.
type Store interface {
	database.Querier
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// LedgerService owns every balance mutation. All writes go through a single
// database transaction that updates the balance and appends the log entry
// together; the cache and event stream are only touched after commit.
type LedgerService interface {
	// CreateAccount registers an account or refreshes its username. Idempotent.
	CreateAccount(ctx context.Context, traceID string, accountID uuid.UUID, username string) error
	// HasAccount reports whether the account is known to the ledger.
	HasAccount(ctx context.Context, traceID string, accountID uuid.UUID) (bool, error)
	// GetBalance returns the stored balance, invalid when the account has
	// never touched this currency, so callers can substitute the currency's
	// starter balance where that is the right reading. Reads never write.
	GetBalance(ctx context.Context, traceID string, accountID uuid.UUID, currencyID string) (decimal.NullDecimal, currency.Currency, error)
	// SetBalance overwrites the balance to an exact value within the
	// currency's bounds.
	SetBalance(ctx context.Context, traceID string, accountID uuid.UUID, currencyID string, amount decimal.Decimal) (decimal.Decimal, currency.Currency, error)
	// AddBalance credits amount, refusing if the max-balance bound would be
	// exceeded. Returns the post-credit balance.
	AddBalance(ctx context.Context, traceID string, accountID uuid.UUID, currencyID string, amount decimal.Decimal) (decimal.Decimal, currency.Currency, error)
	// RemoveBalance debits amount, refusing on insufficient funds or a
	// min-balance violation. Returns the post-debit balance.
	RemoveBalance(ctx context.Context, traceID string, accountID uuid.UUID, currencyID string, amount decimal.Decimal) (decimal.Decimal, currency.Currency, error)
	// Transfer atomically moves amount from one account to another, debiting
	// amount+tax from the sender. Either both balances change or neither does.
	Transfer(ctx context.Context, traceID string, from, to uuid.UUID, currencyID string, amount, tax decimal.Decimal) (senderBalance, receiverBalance decimal.Decimal, err error)
	// TransactionHistory returns the newest log entries touching an account.
	TransactionHistory(ctx context.Context, traceID string, accountID uuid.UUID, limit int) ([]models.Transaction, error)
	// Disconnect drops the account's cached balances. The stored state is
	// untouched.
	Disconnect(accountID uuid.UUID)
}

type LedgerServiceImpl struct {
	logger      *zap.Logger
	db          Store
	currencies  *currency.Holder
	cache       *cache.BalanceCache
	accountRepo repositories.AccountRepository
	balanceRepo repositories.BalanceRepository
	txRepo      repositories.TransactionRepository
	publisher   EventPublisher
}

func NewLedgerService(
	logger *zap.Logger,
	db Store,
	currencies *currency.Holder,
	balanceCache *cache.BalanceCache,
	accountRepo repositories.AccountRepository,
	balanceRepo repositories.BalanceRepository,
	txRepo repositories.TransactionRepository,
	publisher EventPublisher,
) LedgerService {
	return &LedgerServiceImpl{
		logger:      logger,
		db:          db,
		currencies:  currencies,
		cache:       balanceCache,
		accountRepo: accountRepo,
		balanceRepo: balanceRepo,
		txRepo:      txRepo,
		publisher:   publisher,
	}
}

func (s *LedgerServiceImpl) CreateAccount(ctx context.Context, traceID string, accountID uuid.UUID, username string) error {
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := s.accountRepo.Upsert(ctx, tx, accountID, username)
		return err
	})
	if err != nil {
		return pkg.HandleSQLError(traceID, s.logger, err)
	}
	s.logger.Info("account upserted",
		zap.String(pkg.TraceId, traceID),
		zap.String("accountId", accountID.String()),
		zap.String("username", username))
	return nil
}

func (s *LedgerServiceImpl) HasAccount(ctx context.Context, traceID string, accountID uuid.UUID) (bool, error) {
	exists, err := s.accountRepo.Exists(ctx, s.db, accountID)
	if err != nil {
		return false, pkg.HandleSQLError(traceID, s.logger, err)
	}
	return exists, nil
}

func (s *LedgerServiceImpl) GetBalance(ctx context.Context, traceID string, accountID uuid.UUID, currencyID string) (decimal.NullDecimal, currency.Currency, error) {
	cur, ok := s.currencies.Current().Get(currencyID)
	if !ok {
		return decimal.NullDecimal{}, currency.Currency{}, pkg.NewAppError(pkg.ErrUnknownCurrencyCode, "unknown currency: "+currencyID, nil)
	}

	// Only set balances are cached, so a hit always means the row exists.
	if v, hit := s.cache.Get(accountID, cur.ID); hit {
		return decimal.NullDecimal{Decimal: v, Valid: true}, cur, nil
	}

	stored, err := s.balanceRepo.Get(ctx, s.db, accountID, cur.ID)
	if err != nil {
		return decimal.NullDecimal{}, cur, pkg.HandleSQLError(traceID, s.logger, err)
	}
	if stored.Valid {
		s.cache.Put(accountID, cur.ID, stored.Decimal)
	}
	return stored, cur, nil
}

func (s *LedgerServiceImpl) SetBalance(ctx context.Context, traceID string, accountID uuid.UUID, currencyID string, amount decimal.Decimal) (decimal.Decimal, currency.Currency, error) {
	cur, ok := s.currencies.Current().Get(currencyID)
	if !ok {
		return decimal.Decimal{}, currency.Currency{}, pkg.NewAppError(pkg.ErrUnknownCurrencyCode, "unknown currency: "+currencyID, nil)
	}
	if !cur.ValidBalance(amount) {
		return decimal.Decimal{}, cur, pkg.NewAppError(pkg.ErrBalanceOutOfBoundsCode,
			"balance "+amount.String()+" violates bounds of "+cur.ID, nil)
	}

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.requireAccount(ctx, tx, accountID); err != nil {
			return err
		}
		if err := s.balanceRepo.Put(ctx, tx, accountID, cur.ID, amount); err != nil {
			return err
		}
		return s.txRepo.Append(ctx, tx, nil, accountID, cur.ID, amount, string(pkg.TransactionTypeSet))
	})
	if err != nil {
		return decimal.Decimal{}, cur, s.asAppError(traceID, err)
	}

	s.afterCommit(traceID, pkg.TransactionTypeSet, nil, accountID, cur.ID, amount, amount)
	return amount, cur, nil
}

func (s *LedgerServiceImpl) AddBalance(ctx context.Context, traceID string, accountID uuid.UUID, currencyID string, amount decimal.Decimal) (decimal.Decimal, currency.Currency, error) {
	cur, ok := s.currencies.Current().Get(currencyID)
	if !ok {
		return decimal.Decimal{}, currency.Currency{}, pkg.NewAppError(pkg.ErrUnknownCurrencyCode, "unknown currency: "+currencyID, nil)
	}
	if err := validateAmount(amount); err != nil {
		return decimal.Decimal{}, cur, err
	}

	var newBalance decimal.Decimal
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.requireAccount(ctx, tx, accountID); err != nil {
			return err
		}
		if err := s.materializeStarter(ctx, tx, accountID, cur); err != nil {
			return err
		}
		result, err := s.balanceRepo.Add(ctx, tx, accountID, cur.ID, amount, cur.MinBalance, cur.MaxBalance)
		if err != nil {
			return err
		}
		if !result.Valid {
			return pkg.NewAppError(pkg.ErrBalanceOutOfBoundsCode,
				"credit of "+amount.String()+" would exceed bounds of "+cur.ID, nil)
		}
		newBalance = result.Decimal
		return s.txRepo.Append(ctx, tx, nil, accountID, cur.ID, amount, string(pkg.TransactionTypeGive))
	})
	if err != nil {
		return decimal.Decimal{}, cur, s.asAppError(traceID, err)
	}

	s.afterCommit(traceID, pkg.TransactionTypeGive, nil, accountID, cur.ID, amount, newBalance)
	return newBalance, cur, nil
}

func (s *LedgerServiceImpl) RemoveBalance(ctx context.Context, traceID string, accountID uuid.UUID, currencyID string, amount decimal.Decimal) (decimal.Decimal, currency.Currency, error) {
	cur, ok := s.currencies.Current().Get(currencyID)
	if !ok {
		return decimal.Decimal{}, currency.Currency{}, pkg.NewAppError(pkg.ErrUnknownCurrencyCode, "unknown currency: "+currencyID, nil)
	}
	if err := validateAmount(amount); err != nil {
		return decimal.Decimal{}, cur, err
	}

	var newBalance decimal.Decimal
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.requireAccount(ctx, tx, accountID); err != nil {
			return err
		}
		if err := s.materializeStarter(ctx, tx, accountID, cur); err != nil {
			return err
		}
		result, err := s.balanceRepo.Deduct(ctx, tx, accountID, cur.ID, amount, cur.MinBalance)
		if err != nil {
			return err
		}
		if !result.Valid {
			// Refused: read under lock to tell insufficient funds apart
			// from a min-balance violation.
			held, err := s.balanceRepo.LockForUpdate(ctx, tx, accountID, cur.ID)
			if err != nil {
				return err
			}
			if !held.Valid || held.Decimal.LessThan(amount) {
				return pkg.NewAppError(pkg.ErrInsufficientFundsCode,
					"balance too low to remove "+amount.String(), nil)
			}
			return pkg.NewAppError(pkg.ErrBalanceOutOfBoundsCode,
				"debit of "+amount.String()+" would violate min balance of "+cur.ID, nil)
		}
		newBalance = result.Decimal
		return s.txRepo.Append(ctx, tx, nil, accountID, cur.ID, amount, string(pkg.TransactionTypeRemove))
	})
	if err != nil {
		return decimal.Decimal{}, cur, s.asAppError(traceID, err)
	}

	s.afterCommit(traceID, pkg.TransactionTypeRemove, nil, accountID, cur.ID, amount, newBalance)
	return newBalance, cur, nil
}

func (s *LedgerServiceImpl) Transfer(ctx context.Context, traceID string, from, to uuid.UUID, currencyID string, amount, tax decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	cur, ok := s.currencies.Current().Get(currencyID)
	if !ok {
		return decimal.Decimal{}, decimal.Decimal{}, pkg.NewAppError(pkg.ErrUnknownCurrencyCode, "unknown currency: "+currencyID, nil)
	}
	if err := validateAmount(amount); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	total := amount.Add(tax)
	// The ceiling applies to the full sender debit, tax included.
	if total.GreaterThan(overflowCeiling) {
		return decimal.Decimal{}, decimal.Decimal{}, pkg.NewAppError(pkg.ErrOverflowCode,
			"amount plus tax exceeds safety ceiling", nil)
	}

	var senderBalance, receiverBalance decimal.Decimal
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.requireAccount(ctx, tx, from); err != nil {
			return err
		}
		if err := s.requireAccount(ctx, tx, to); err != nil {
			return err
		}
		if err := s.materializeStarter(ctx, tx, from, cur); err != nil {
			return err
		}
		if err := s.materializeStarter(ctx, tx, to, cur); err != nil {
			return err
		}

		// Row lock on the sender serializes concurrent spends of the same
		// funds; the funds check below can then not go stale.
		held, err := s.balanceRepo.LockForUpdate(ctx, tx, from, cur.ID)
		if err != nil {
			return err
		}
		if !held.Valid || held.Decimal.LessThan(total) {
			return pkg.NewAppError(pkg.ErrInsufficientFundsCode,
				"balance too low to send "+amount.String()+" plus tax "+tax.String(), nil)
		}

		debited, err := s.balanceRepo.Deduct(ctx, tx, from, cur.ID, total, cur.MinBalance)
		if err != nil {
			return err
		}
		if !debited.Valid {
			return pkg.NewAppError(pkg.ErrInsufficientFundsCode,
				"debit of "+total.String()+" refused for sender", nil)
		}
		credited, err := s.balanceRepo.Add(ctx, tx, to, cur.ID, amount, cur.MinBalance, cur.MaxBalance)
		if err != nil {
			return err
		}
		if !credited.Valid {
			return pkg.NewAppError(pkg.ErrBalanceOutOfBoundsCode,
				"credit of "+amount.String()+" would exceed bounds for receiver", nil)
		}
		senderBalance = debited.Decimal
		receiverBalance = credited.Decimal
		// One log entry per transfer; the tax is the difference between the
		// sender debit and this amount, and is destroyed.
		return s.txRepo.Append(ctx, tx, &from, to, cur.ID, amount, string(pkg.TransactionTypePay))
	})
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, s.asAppError(traceID, err)
	}

	s.cache.Put(from, cur.ID, senderBalance)
	s.cache.Put(to, cur.ID, receiverBalance)
	s.publisher.PublishTransaction(TransactionEvent{
		TraceID:  traceID,
		Type:     pkg.TransactionTypePay,
		From:     &from,
		To:       to,
		Currency: cur.ID,
		Amount:   amount,
		At:       time.Now().UTC(),
	})
	s.logger.Info("transfer committed",
		zap.String(pkg.TraceId, traceID),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("currency", cur.ID),
		zap.String("amount", amount.String()),
		zap.String("tax", tax.String()))
	return senderBalance, receiverBalance, nil
}

func (s *LedgerServiceImpl) TransactionHistory(ctx context.Context, traceID string, accountID uuid.UUID, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	txs, err := s.txRepo.RecentByAccount(ctx, s.db, accountID, limit)
	if err != nil {
		return nil, pkg.HandleSQLError(traceID, s.logger, err)
	}
	return txs, nil
}

func (s *LedgerServiceImpl) Disconnect(accountID uuid.UUID) {
	s.cache.Invalidate(accountID)
}

// requireAccount turns a missing account row into the domain error instead of
// letting the balance insert fail on the foreign key.
func (s *LedgerServiceImpl) requireAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error {
	exists, err := s.accountRepo.Exists(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if !exists {
		return pkg.NewAppError(pkg.ErrAccountNotFoundCode, "account not found: "+accountID.String(), nil)
	}
	return nil
}

// materializeStarter durably grants the starter balance on an account's first
// write in a currency, with a matching log entry so the grant is auditable.
func (s *LedgerServiceImpl) materializeStarter(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, cur currency.Currency) error {
	inserted, err := s.balanceRepo.EnsureRow(ctx, tx, accountID, cur.ID, cur.StarterBalance)
	if err != nil {
		return err
	}
	if inserted && !cur.StarterBalance.IsZero() {
		return s.txRepo.Append(ctx, tx, nil, accountID, cur.ID, cur.StarterBalance, string(pkg.TransactionTypeStarter))
	}
	return nil
}

// afterCommit is the single place where a committed single-account mutation
// updates the cache and hits the event stream.
func (s *LedgerServiceImpl) afterCommit(traceID string, txType pkg.TransactionType, from *uuid.UUID, to uuid.UUID, currencyID string, amount, newBalance decimal.Decimal) {
	s.cache.Put(to, currencyID, newBalance)
	s.publisher.PublishTransaction(TransactionEvent{
		TraceID:  traceID,
		Type:     txType,
		From:     from,
		To:       to,
		Currency: currencyID,
		Amount:   amount,
		At:       time.Now().UTC(),
	})
	s.logger.Info("balance mutation committed",
		zap.String(pkg.TraceId, traceID),
		zap.String("type", string(txType)),
		zap.String("accountId", to.String()),
		zap.String("currency", currencyID),
		zap.String("amount", amount.String()),
		zap.String("balance", newBalance.String()))
}

// asAppError passes domain errors through untouched and maps everything else
// through the SQL error translator.
func (s *LedgerServiceImpl) asAppError(traceID string, err error) error {
	var appErr pkg.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return pkg.HandleSQLError(traceID, s.logger, err)
}

func validateAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return pkg.NewAppError(pkg.ErrInvalidAmountCode, "amount must be positive", nil)
	}
	if amount.GreaterThan(overflowCeiling) {
		return pkg.NewAppError(pkg.ErrOverflowCode, "amount exceeds safety ceiling", nil)
	}
	return nil
}
