package services

import (
	"context"
	"strconv"

	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/pkg/currency"
	"github.com/coinledger/coinledger/pkg/database"
	"github.com/coinledger/coinledger/pkg/models"
	"github.com/coinledger/coinledger/pkg/repositories"
	"github.com/coinledger/coinledger/services/ledger-api/internal/views"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LeaderboardService serves paged balance rankings straight from the store,
// so the ranking always reflects committed state. Pages are 1-based.
type LeaderboardService interface {
	TopBalances(ctx context.Context, traceID string, currencyID string, page int) (views.LeaderboardResponse, error)
	// Rank returns an account's 1-based position in a currency's ranking,
	// using the effective (starter-substituted) balance.
	Rank(ctx context.Context, traceID string, accountID uuid.UUID, currencyID string) (views.RankResponse, error)
}

type LeaderboardServiceImpl struct {
	logger      *zap.Logger
	db          *database.DB
	currencies  *currency.Holder
	ledger      LedgerService
	accountRepo repositories.AccountRepository
	balanceRepo repositories.BalanceRepository
	pageSize    int
}

func NewLeaderboardService(
	logger *zap.Logger,
	db *database.DB,
	currencies *currency.Holder,
	ledger LedgerService,
	accountRepo repositories.AccountRepository,
	balanceRepo repositories.BalanceRepository,
	pageSize int,
) LeaderboardService {
	if pageSize < 1 {
		pageSize = 1
	}
	return &LeaderboardServiceImpl{
		logger:      logger,
		db:          db,
		currencies:  currencies,
		ledger:      ledger,
		accountRepo: accountRepo,
		balanceRepo: balanceRepo,
		pageSize:    pageSize,
	}
}

func (l *LeaderboardServiceImpl) TopBalances(ctx context.Context, traceID string, currencyID string, page int) (views.LeaderboardResponse, error) {
	cur, ok := l.currencies.Current().Get(currencyID)
	if !ok {
		return views.LeaderboardResponse{}, pkg.NewAppError(pkg.ErrUnknownCurrencyCode, "unknown currency: "+currencyID, nil)
	}

	totalAccounts, err := l.accountRepo.Count(ctx, l.db)
	if err != nil {
		return views.LeaderboardResponse{}, pkg.HandleSQLError(traceID, l.logger, err)
	}

	// Page math runs on registered accounts, not stored balance rows: an
	// account that never wrote a balance still ranks implicitly at the
	// starter, so trailing pages may come back short or empty. An empty
	// ranking still has one (empty) page, so page 1 never errors.
	totalPages := int((totalAccounts + int64(l.pageSize) - 1) / int64(l.pageSize))
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 1 || page > totalPages {
		return views.LeaderboardResponse{}, pkg.NewAppError(pkg.ErrInvalidPageCode,
			"page "+strconv.Itoa(page)+" out of range 1.."+strconv.Itoa(totalPages), nil)
	}

	entries, err := l.balanceRepo.Top(ctx, l.db, cur.ID, l.pageSize, (page-1)*l.pageSize)
	if err != nil {
		return views.LeaderboardResponse{}, pkg.HandleSQLError(traceID, l.logger, err)
	}
	if entries == nil {
		entries = []models.BalanceEntry{}
	}

	return views.LeaderboardResponse{
		Currency:      cur.ID,
		Page:          page,
		TotalPages:    totalPages,
		PageSize:      l.pageSize,
		TotalAccounts: totalAccounts,
		Entries:       entries,
	}, nil
}

func (l *LeaderboardServiceImpl) Rank(ctx context.Context, traceID string, accountID uuid.UUID, currencyID string) (views.RankResponse, error) {
	exists, err := l.ledger.HasAccount(ctx, traceID, accountID)
	if err != nil {
		return views.RankResponse{}, err
	}
	if !exists {
		return views.RankResponse{}, pkg.NewAppError(pkg.ErrAccountNotFoundCode, "account not found: "+accountID.String(), nil)
	}

	stored, cur, err := l.ledger.GetBalance(ctx, traceID, accountID, currencyID)
	if err != nil {
		return views.RankResponse{}, err
	}
	balance := cur.StarterBalance
	if stored.Valid {
		balance = stored.Decimal
	}

	higher, err := l.balanceRepo.CountHigher(ctx, l.db, cur.ID, balance)
	if err != nil {
		return views.RankResponse{}, pkg.HandleSQLError(traceID, l.logger, err)
	}

	return views.RankResponse{
		AccountID: accountID,
		Currency:  cur.ID,
		Rank:      higher + 1,
		Balance:   balance,
	}, nil
}
