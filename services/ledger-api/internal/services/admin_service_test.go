package services

import (
	"errors"
	"testing"
	"time"

	"github.com/coinledger/coinledger/pkg/cache"
	"github.com/coinledger/coinledger/pkg/currency"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReloadCurrencies_SwapsRegistryAndClearsState(t *testing.T) {
	// Arrange
	holder := testCurrencies(t)
	balanceCache := cache.NewBalanceCache(10)
	balanceCache.Put(uuid.New(), "lira", decimal.NewFromInt(42))
	pending := NewPendingStore(time.Minute)
	pending.Put(uuid.New(), uuid.New(), "lira", decimal.NewFromInt(10), decimal.NewFromInt(1))
	loader := func() (map[string]currency.Config, []string, error) {
		return map[string]currency.Config{
			"coin": {DisplayName: "Coin", Default: true},
		}, []string{"coin"}, nil
	}
	svc := NewAdminService(zap.NewNop(), holder, balanceCache, pending, loader)

	// Act
	loaded, err := svc.ReloadCurrencies("trace")

	// Assert
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "coin", loaded[0].ID)
	assert.Equal(t, "coin", holder.Current().Default().ID)
	assert.False(t, holder.Current().Exists("lira"))
	assert.Equal(t, 0, balanceCache.Len(), "cached balances must not outlive a reload")
	assert.Equal(t, 0, pending.Len(), "pending transfers priced on old definitions must be dropped")
}

func TestReloadCurrencies_LoaderFailureKeepsOldRegistry(t *testing.T) {
	holder := testCurrencies(t)
	balanceCache := cache.NewBalanceCache(10)
	balanceCache.Put(uuid.New(), "lira", decimal.NewFromInt(42))
	pending := NewPendingStore(time.Minute)
	pending.Put(uuid.New(), uuid.New(), "lira", decimal.NewFromInt(10), decimal.NewFromInt(1))
	loader := func() (map[string]currency.Config, []string, error) {
		return nil, nil, errors.New("config unreadable")
	}
	svc := NewAdminService(zap.NewNop(), holder, balanceCache, pending, loader)

	_, err := svc.ReloadCurrencies("trace")

	assert.Error(t, err)
	assert.True(t, holder.Current().Exists("lira"), "failed reload must leave the registry untouched")
	assert.Equal(t, 1, balanceCache.Len())
	assert.Equal(t, 1, pending.Len())
}

func TestCurrencies_ReturnsLoadOrder(t *testing.T) {
	svc := NewAdminService(zap.NewNop(), testCurrencies(t), cache.NewBalanceCache(10), NewPendingStore(time.Minute), nil)

	currencies := svc.Currencies()

	require.Len(t, currencies, 2)
	assert.Equal(t, "lira", currencies[0].ID)
	assert.Equal(t, "gem", currencies[1].ID)
}

func TestCurrency_LookupByID(t *testing.T) {
	svc := NewAdminService(zap.NewNop(), testCurrencies(t), cache.NewBalanceCache(10), NewPendingStore(time.Minute), nil)

	cur, ok := svc.Currency("gem")
	require.True(t, ok)
	assert.Equal(t, "Gem", cur.DisplayName)

	_, ok = svc.Currency("doge")
	assert.False(t, ok)
}
