package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
)

func newPurchase(t *testing.T, key string) *domain.Transaction {
	t.Helper()
	txn := domain.NewTransaction(domain.TransactionTypePurchase, decimal.NewNullDecimal(decimal.RequireFromString("100.00")), "USD")
	txn.IdempotencyKey = key
	return txn
}

func TestMemoryTransactionRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTransactionRepository(NewMemoryStore())

	txn := newPurchase(t, "key-1")
	require.NoError(t, repo.Create(ctx, txn))

	got, err := repo.GetByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, got.ID)
	assert.True(t, txn.Amount.Decimal.Equal(got.Amount.Decimal))

	byKey, err := repo.GetByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, txn.ID, byKey.ID)

	// reads are copies
	got.Status = domain.TransactionStatusFailed
	again, err := repo.GetByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, again.Status)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
	_, err = repo.GetByIdempotencyKey(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestMemoryTransactionRepository_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTransactionRepository(NewMemoryStore())

	require.NoError(t, repo.Create(ctx, newPurchase(t, "dup")))
	err := repo.Create(ctx, newPurchase(t, "dup"))
	assert.ErrorIs(t, err, ErrDuplicateTransaction)
}

func TestMemoryTransactionRepository_UpdateVersionCAS(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTransactionRepository(NewMemoryStore())

	txn := newPurchase(t, "")
	require.NoError(t, repo.Create(ctx, txn))

	first, _ := repo.GetByID(ctx, txn.ID)
	second, _ := repo.GetByID(ctx, txn.ID)

	require.NoError(t, first.Approve(domain.GatewayDetails{TransactionID: "gw_1"}))
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, 1, first.Version)

	require.NoError(t, second.Fail(domain.ErrorCodeCardDeclined, "declined", false, nil))
	assert.ErrorIs(t, repo.Update(ctx, second), domain.ErrConcurrentModification)

	stored, _ := repo.GetByID(ctx, txn.ID)
	assert.Equal(t, domain.TransactionStatusCaptured, stored.Status)

	ghost := newPurchase(t, "")
	assert.ErrorIs(t, repo.Update(ctx, ghost), domain.ErrTransactionNotFound)
}

func TestMemoryTransactionRepository_UpdateAllIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTransactionRepository(NewMemoryStore())

	a := newPurchase(t, "")
	b := newPurchase(t, "")
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	staleB, _ := repo.GetByID(ctx, b.ID)
	freshB, _ := repo.GetByID(ctx, b.ID)
	require.NoError(t, repo.Update(ctx, freshB))

	a.ReasonText = "changed"
	err := repo.UpdateAll(ctx, a, staleB)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	storedA, _ := repo.GetByID(ctx, a.ID)
	assert.Empty(t, storedA.ReasonText)
	assert.Equal(t, 0, storedA.Version)
}

func TestMemoryTransactionRepository_ConcurrentUpdateOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTransactionRepository(NewMemoryStore())
	txn := newPurchase(t, "")
	require.NoError(t, repo.Create(ctx, txn))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp, _ := repo.GetByID(ctx, txn.ID)
			cp.Version = 0
			if repo.Update(ctx, cp) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryTransactionRepository_Lists(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTransactionRepository(NewMemoryStore())

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		txn := newPurchase(t, "")
		txn.CustomerID = "cust-1"
		txn.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		txn.UpdatedAt = txn.CreatedAt
		if i < 2 {
			require.NoError(t, txn.MarkOutcomeUnknown("timeout"))
			txn.UpdatedAt = txn.CreatedAt
		}
		require.NoError(t, repo.Create(ctx, txn))
	}

	list, err := repo.ListByCustomer(ctx, "cust-1", 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))

	list, err = repo.ListByCustomer(ctx, "cust-1", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, list)

	unresolved, err := repo.ListUnresolved(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, unresolved, 2)

	unresolved, err = repo.ListUnresolved(ctx, base, 10)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestMemoryTransactionRepository_GetWithPaymentMethod(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := NewMemoryTransactionRepository(store)
	pms := NewMemoryPaymentMethodRepository(store)

	pm := domain.NewTokenPaymentMethod("cust-1", "tok_visa")
	require.NoError(t, pms.Create(ctx, pm))

	txn := newPurchase(t, "")
	txn.PaymentMethodID = pm.ID
	require.NoError(t, repo.Create(ctx, txn))

	gotTxn, gotPM, err := repo.GetWithPaymentMethod(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, gotTxn.ID)
	require.NotNil(t, gotPM)
	assert.Equal(t, "tok_visa", gotPM.GatewayToken)

	bare := newPurchase(t, "")
	require.NoError(t, repo.Create(ctx, bare))
	_, gotPM, err = repo.GetWithPaymentMethod(ctx, bare.ID)
	require.NoError(t, err)
	assert.Nil(t, gotPM)
}

func TestMemoryCustomerRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCustomerRepository(NewMemoryStore())

	c, err := domain.NewCustomer(domain.CustomerInfo{Email: "Jane@Example.com", FirstName: "Jane"})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, c))

	dup, err := domain.NewCustomer(domain.CustomerInfo{Email: "jane@example.com"})
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Create(ctx, dup), domain.ErrCustomerAlreadyExists)

	got, err := repo.GetByEmail(ctx, "JANE@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	pending, err := repo.ListWithoutGatewayProfile(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, repo.SetGatewayProfileID(ctx, c.ID, "cus_1"))
	require.NoError(t, repo.SetGatewayProfileID(ctx, c.ID, "cus_2"))
	got, err = repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", got.GatewayProfileID)

	pending, err = repo.ListWithoutGatewayProfile(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
	assert.ErrorIs(t, repo.SetGatewayProfileID(ctx, "missing", "cus_x"), domain.ErrCustomerNotFound)
}

func TestMemoryPaymentMethodRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPaymentMethodRepository(NewMemoryStore())

	pm, err := domain.NewMaskedPaymentMethod("cust-1", &domain.CreditCard{
		Number: "4111111111111111", ExpMonth: 12, ExpYear: 2030, CVV: "123",
	})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, pm))

	got, err := repo.GetByID(ctx, pm.ID)
	require.NoError(t, err)
	assert.Equal(t, "1111", got.CardLast4)

	list, err := repo.ListByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = repo.ListByCustomer(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrPaymentMethodNotFound)

	tok := domain.NewTokenPaymentMethod("cust-1", "pm_card_visa")
	require.NoError(t, repo.Create(ctx, tok))

	got, err = repo.GetByToken(ctx, "cust-1", "pm_card_visa")
	require.NoError(t, err)
	assert.Equal(t, tok.ID, got.ID)

	_, err = repo.GetByToken(ctx, "other", "pm_card_visa")
	assert.ErrorIs(t, err, domain.ErrPaymentMethodNotFound)
}
