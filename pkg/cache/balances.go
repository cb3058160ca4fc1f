package cache

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceCache is a bounded, in-memory read-through cache mapping
// (account, currency) to the last-known committed balance. It is advisory:
// the durable store remains the source of truth, and every entry must be
// re-derivable from it. Writers update the cache only after a successful
// durable commit.
//
// The bound applies to the number of tracked accounts, not individual
// entries; once at capacity, balances for new accounts are simply not cached.
type BalanceCache struct {
	mu          sync.RWMutex
	accounts    map[uuid.UUID]map[string]decimal.Decimal
	maxAccounts int
}

// NewBalanceCache creates a cache tracking at most maxAccounts accounts.
// maxAccounts <= 0 disables caching entirely.
func NewBalanceCache(maxAccounts int) *BalanceCache {
	return &BalanceCache{
		accounts:    make(map[uuid.UUID]map[string]decimal.Decimal),
		maxAccounts: maxAccounts,
	}
}

// Get returns the cached balance for (account, currency), if present.
func (c *BalanceCache) Get(accountID uuid.UUID, currencyID string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	balances, ok := c.accounts[accountID]
	if !ok {
		return decimal.Decimal{}, false
	}
	v, ok := balances[currencyID]
	return v, ok
}

// Put records a committed balance. A new account is only admitted while the
// cache is below capacity; accounts already tracked always take the update,
// so a committed mutation can never leave a stale entry behind.
func (c *BalanceCache) Put(accountID uuid.UUID, currencyID string, balance decimal.Decimal) {
	if c.maxAccounts <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	balances, ok := c.accounts[accountID]
	if !ok {
		if len(c.accounts) >= c.maxAccounts {
			return
		}
		balances = make(map[string]decimal.Decimal)
		c.accounts[accountID] = balances
	}
	balances[currencyID] = balance
}

// Invalidate drops every cached balance for an account. Called on account
// disconnect and whenever a write path cannot compute the post-write value.
func (c *BalanceCache) Invalidate(accountID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.accounts, accountID)
}

// Clear drops all entries.
func (c *BalanceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts = make(map[uuid.UUID]map[string]decimal.Decimal)
}

// Len returns the number of tracked accounts.
func (c *BalanceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.accounts)
}
