package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PendingTransfer is an unconfirmed transfer intent, keyed by sender. It
// lives only in memory: a restart drops all pending intents, which is safe
// because nothing has been debited yet.
type PendingTransfer struct {
	From      uuid.UUID
	To        uuid.UUID
	Currency  string
	Amount    decimal.Decimal
	Tax       decimal.Decimal
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TakeResult reports what Take found for a sender.
type TakeResult int

const (
	TakeNone TakeResult = iota
	TakeExpired
	TakeOK
)

// PendingStore holds at most one pending transfer per sender. A new request
// supersedes the previous one. Expiry is enforced lazily on Take and
// periodically via Sweep.
type PendingStore struct {
	mu       sync.Mutex
	bySender map[uuid.UUID]PendingTransfer
	ttl      time.Duration
	now      func() time.Time
}

func NewPendingStore(ttl time.Duration) *PendingStore {
	return &PendingStore{
		bySender: make(map[uuid.UUID]PendingTransfer),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Put records a pending transfer for the sender, replacing any existing one,
// and returns it with its expiry stamped.
func (p *PendingStore) Put(from, to uuid.UUID, currencyID string, amount, tax decimal.Decimal) PendingTransfer {
	now := p.now()
	pending := PendingTransfer{
		From:      from,
		To:        to,
		Currency:  currencyID,
		Amount:    amount,
		Tax:       tax,
		CreatedAt: now,
		ExpiresAt: now.Add(p.ttl),
	}
	p.mu.Lock()
	p.bySender[from] = pending
	p.mu.Unlock()
	return pending
}

// Take removes and returns the sender's pending transfer. An entry past its
// expiry is removed and reported as expired, never returned as live.
func (p *PendingStore) Take(from uuid.UUID) (PendingTransfer, TakeResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending, ok := p.bySender[from]
	if !ok {
		return PendingTransfer{}, TakeNone
	}
	delete(p.bySender, from)
	if p.now().After(pending.ExpiresAt) {
		return PendingTransfer{}, TakeExpired
	}
	return pending, TakeOK
}

// Sweep drops all expired entries and returns how many were removed. Run
// periodically so abandoned intents do not accumulate between confirms.
func (p *PendingStore) Sweep() int {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for from, pending := range p.bySender {
		if now.After(pending.ExpiresAt) {
			delete(p.bySender, from)
			removed++
		}
	}
	return removed
}

// Clear drops every pending intent, live or expired. Used when currency
// definitions are reloaded, since parked terms (tax, limits) were computed
// against the old definitions.
func (p *PendingStore) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bySender = make(map[uuid.UUID]PendingTransfer)
}

// Len returns the number of live-or-expired entries currently held.
func (p *PendingStore) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bySender)
}
