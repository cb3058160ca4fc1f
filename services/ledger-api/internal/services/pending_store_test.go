package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPendingStore_PutAndTake(t *testing.T) {
	store := NewPendingStore(time.Minute)
	from := uuid.New()
	to := uuid.New()

	put := store.Put(from, to, "lira", decimal.NewFromInt(25), decimal.NewFromInt(2))

	got, result := store.Take(from)
	assert.Equal(t, TakeOK, result)
	assert.Equal(t, put, got)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(25)))

	// Take consumed it.
	_, result = store.Take(from)
	assert.Equal(t, TakeNone, result)
}

func TestPendingStore_Supersede(t *testing.T) {
	store := NewPendingStore(time.Minute)
	from := uuid.New()

	store.Put(from, uuid.New(), "lira", decimal.NewFromInt(100), decimal.Zero)
	second := store.Put(from, uuid.New(), "lira", decimal.NewFromInt(7), decimal.Zero)

	assert.Equal(t, 1, store.Len())
	got, result := store.Take(from)
	assert.Equal(t, TakeOK, result)
	assert.Equal(t, second.To, got.To)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(7)))
}

func TestPendingStore_LazyExpiry(t *testing.T) {
	store := NewPendingStore(time.Minute)
	from := uuid.New()
	store.Put(from, uuid.New(), "lira", decimal.NewFromInt(10), decimal.Zero)

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, result := store.Take(from)
	assert.Equal(t, TakeExpired, result)
	assert.Equal(t, 0, store.Len(), "expired entry must be dropped on take")
}

func TestPendingStore_Sweep(t *testing.T) {
	store := NewPendingStore(time.Minute)
	expired1 := uuid.New()
	expired2 := uuid.New()
	store.Put(expired1, uuid.New(), "lira", decimal.NewFromInt(1), decimal.Zero)
	store.Put(expired2, uuid.New(), "lira", decimal.NewFromInt(2), decimal.Zero)

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	live := uuid.New()
	store.Put(live, uuid.New(), "lira", decimal.NewFromInt(3), decimal.Zero)

	removed := store.Sweep()

	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Len())
	_, result := store.Take(live)
	assert.Equal(t, TakeOK, result)
}
