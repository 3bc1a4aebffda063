package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
)

// runIdempotencyStoreContract exercises behavior every IdempotencyStore must share
func runIdempotencyStoreContract(t *testing.T, store IdempotencyStore) {
	ctx := context.Background()

	t.Run("first reservation wins", func(t *testing.T) {
		key := "contract-" + uuid.New().String()
		res, err := store.ReserveOrGet(ctx, key, "fp-1")
		require.NoError(t, err)
		assert.True(t, res.IsNew)

		res, err = store.ReserveOrGet(ctx, key, "fp-1")
		require.NoError(t, err)
		assert.False(t, res.IsNew)
		require.NotNil(t, res.Existing)
		assert.Equal(t, IdempotencyProcessing, res.Existing.Status)
		assert.Equal(t, "fp-1", res.Existing.Fingerprint)
	})

	t.Run("complete stores the snapshot", func(t *testing.T) {
		key := "contract-" + uuid.New().String()
		res, err := store.ReserveOrGet(ctx, key, "fp-2")
		require.NoError(t, err)
		require.NotEmpty(t, res.Token)

		txn := domain.NewTransaction(domain.TransactionTypePurchase, decimal.NewNullDecimal(decimal.RequireFromString("100.00")), "USD")
		require.NoError(t, txn.Approve(domain.GatewayDetails{TransactionID: "gw_contract"}))
		require.NoError(t, store.Complete(ctx, key, res.Token, txn))

		rec, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, IdempotencyCompleted, rec.Status)
		assert.Equal(t, txn.ID, rec.TransactionID)
		require.NotNil(t, rec.Result)
		assert.Equal(t, "gw_contract", rec.Result.GatewayTransactionID)
		assert.True(t, rec.Result.Amount.Decimal.Equal(decimal.RequireFromString("100")))

		// the same transaction may refresh its snapshot without the token
		require.NoError(t, store.Complete(ctx, key, "", txn))
		other := domain.NewTransaction(domain.TransactionTypePurchase, txn.Amount, "USD")
		assert.ErrorIs(t, store.Complete(ctx, key, "", other), ErrReservationLost)

		// completed keys survive release
		require.NoError(t, store.Release(ctx, key, res.Token))
		_, err = store.Get(ctx, key)
		assert.NoError(t, err)
	})

	t.Run("only the holder releases or completes", func(t *testing.T) {
		key := "contract-" + uuid.New().String()
		res, err := store.ReserveOrGet(ctx, key, "fp-5")
		require.NoError(t, err)

		require.NoError(t, store.Release(ctx, key, "someone-else"))
		rec, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, IdempotencyProcessing, rec.Status)

		txn := domain.NewTransaction(domain.TransactionTypeVoid, decimal.NullDecimal{}, "USD")
		assert.ErrorIs(t, store.Complete(ctx, key, "someone-else", txn), ErrReservationLost)
		assert.ErrorIs(t, store.Complete(ctx, key, "", txn), ErrReservationLost)

		require.NoError(t, store.Complete(ctx, key, res.Token, txn))
	})

	t.Run("release frees the key", func(t *testing.T) {
		key := "contract-" + uuid.New().String()
		res, err := store.ReserveOrGet(ctx, key, "fp-3")
		require.NoError(t, err)
		require.NoError(t, store.Release(ctx, key, res.Token))

		_, err = store.Get(ctx, key)
		assert.ErrorIs(t, err, ErrIdempotencyKeyNotFound)

		res, err = store.ReserveOrGet(ctx, key, "fp-3")
		require.NoError(t, err)
		assert.True(t, res.IsNew)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "contract-missing-"+uuid.New().String())
		assert.ErrorIs(t, err, ErrIdempotencyKeyNotFound)
	})

	t.Run("concurrent reservations have one winner", func(t *testing.T) {
		key := "contract-" + uuid.New().String()
		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := store.ReserveOrGet(ctx, key, "fp-4")
				if err == nil && res.IsNew {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners.Load())
	})
}

func TestMemoryIdempotencyStore_Contract(t *testing.T) {
	runIdempotencyStoreContract(t, NewMemoryIdempotencyStore(DefaultIdempotencyTTL()))
}

func TestMemoryIdempotencyStore_ExpiredReservationIsTakenOver(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore(IdempotencyTTL{Processing: time.Minute, Completed: time.Hour})
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	res, err := store.ReserveOrGet(ctx, "stale", "fp")
	require.NoError(t, err)
	require.True(t, res.IsNew)
	stale := res.Token

	now = now.Add(2 * time.Minute)
	res, err = store.ReserveOrGet(ctx, "stale", "fp")
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.NotEqual(t, stale, res.Token)

	// the earlier holder can no longer touch the new reservation
	txn := domain.NewTransaction(domain.TransactionTypePurchase, decimal.NewNullDecimal(decimal.RequireFromString("5")), "USD")
	assert.ErrorIs(t, store.Complete(ctx, "stale", stale, txn), ErrReservationLost)
	require.NoError(t, store.Release(ctx, "stale", stale))
	rec, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, IdempotencyProcessing, rec.Status)
	assert.Equal(t, res.Token, rec.Token)
}

func TestMemoryIdempotencyStore_CompletedExpires(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore(IdempotencyTTL{Processing: time.Minute, Completed: time.Hour})
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	res, err := store.ReserveOrGet(ctx, "k", "fp")
	require.NoError(t, err)
	txn := domain.NewTransaction(domain.TransactionTypeVoid, decimal.NullDecimal{}, "USD")
	require.NoError(t, store.Complete(ctx, "k", res.Token, txn))

	now = now.Add(30 * time.Minute)
	_, err = store.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrIdempotencyKeyNotFound)
}

func TestIdempotencyTTL_WithDefaults(t *testing.T) {
	ttl := IdempotencyTTL{Completed: time.Hour}.withDefaults()
	assert.Equal(t, 2*time.Minute, ttl.Processing)
	assert.Equal(t, time.Hour, ttl.Completed)
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	lock, err := locker.TryAcquire(ctx, "txn-1", time.Minute)
	require.NoError(t, err)

	_, err = locker.TryAcquire(ctx, "txn-1", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	other, err := locker.TryAcquire(ctx, "txn-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lock.Release(ctx))
	again, err := locker.TryAcquire(ctx, "txn-1", time.Minute)
	require.NoError(t, err)

	// a stale holder cannot release someone else's lock
	require.NoError(t, lock.Release(ctx))
	_, err = locker.TryAcquire(ctx, "txn-1", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLocker_Expires(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	_, err := locker.TryAcquire(ctx, "txn-1", 10*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	lock, err := locker.TryAcquire(ctx, "txn-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))
}

func TestMemoryLocker_ConcurrentOneHolder(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	var holders atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := locker.TryAcquire(ctx, "shared", time.Minute); err == nil {
				holders.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrLockHeld, fmt.Sprintf("goroutine %d", i))
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), holders.Load())
}
