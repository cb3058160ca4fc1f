package services

import (
	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/pkg/cache"
	"github.com/coinledger/coinledger/pkg/currency"
	"go.uber.org/zap"
)

// CurrencyLoader re-reads currency definitions from configuration. Wired by
// the app so this service stays ignorant of where config lives.
type CurrencyLoader func() (map[string]currency.Config, []string, error)

// AdminService handles operator actions: reloading currency definitions at
// runtime and exposing the loaded set.
type AdminService interface {
	// ReloadCurrencies rebuilds the registry from configuration and swaps it
	// in atomically. The balance cache and pending transfers are cleared:
	// cached values and parked transfer terms were derived from definitions
	// that no longer apply.
	ReloadCurrencies(traceID string) ([]currency.Currency, error)
	// Currencies returns the currently loaded definitions in load order.
	Currencies() []currency.Currency
	// Currency looks up a single loaded currency by id.
	Currency(id string) (currency.Currency, bool)
}

type AdminServiceImpl struct {
	logger     *zap.Logger
	currencies *currency.Holder
	cache      *cache.BalanceCache
	pending    *PendingStore
	loader     CurrencyLoader
}

func NewAdminService(logger *zap.Logger, currencies *currency.Holder, balanceCache *cache.BalanceCache, pending *PendingStore, loader CurrencyLoader) AdminService {
	return &AdminServiceImpl{
		logger:     logger,
		currencies: currencies,
		cache:      balanceCache,
		pending:    pending,
		loader:     loader,
	}
}

func (a *AdminServiceImpl) ReloadCurrencies(traceID string) ([]currency.Currency, error) {
	defs, order, err := a.loader()
	if err != nil {
		a.logger.Error("currency reload failed", zap.String(pkg.TraceId, traceID), zap.Error(err))
		return nil, err
	}

	registry := currency.Load(a.logger, defs, order)
	a.currencies.Swap(registry)
	a.cache.Clear()
	a.pending.Clear()

	loaded := registry.All()
	a.logger.Info("currencies reloaded",
		zap.String(pkg.TraceId, traceID),
		zap.Int("count", len(loaded)),
		zap.String("default", registry.Default().ID))
	return loaded, nil
}

func (a *AdminServiceImpl) Currencies() []currency.Currency {
	return a.currencies.Current().All()
}

func (a *AdminServiceImpl) Currency(id string) (currency.Currency, bool) {
	return a.currencies.Current().Get(id)
}
