package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/gateway"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/repository"
)

func newProfileManager(gw gateway.Client) (*CustomerProfileManager, *repository.MemoryCustomerRepository, *repository.MemoryPaymentMethodRepository) {
	store := repository.NewMemoryStore()
	customers := repository.NewMemoryCustomerRepository(store)
	methods := repository.NewMemoryPaymentMethodRepository(store)
	return NewCustomerProfileManager(customers, methods, gw, nil), customers, methods
}

func TestCustomerProfileManager_ResolveCustomerReusesByEmail(t *testing.T) {
	gw := gateway.NewMockGateway(nil)
	m, _, _ := newProfileManager(gw)
	ctx := context.Background()

	first, err := m.ResolveCustomer(ctx, "corr", domain.CustomerInfo{Email: "Ada@Example.com", FirstName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", first.Email)
	assert.True(t, first.HasGatewayProfile())

	second, err := m.ResolveCustomer(ctx, "corr", domain.CustomerInfo{Email: " ada@example.COM "})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), gw.Calls("profile"))
}

func TestCustomerProfileManager_ConcurrentResolveCreatesOnce(t *testing.T) {
	gw := gateway.NewMockGateway(nil)
	m, customers, _ := newProfileManager(gw)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.ResolveCustomer(ctx, "", domain.CustomerInfo{Email: "race@example.com"})
			if err == nil {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	c, err := customers.GetByEmail(ctx, "race@example.com")
	require.NoError(t, err)
	assert.Equal(t, ids[0], c.ID)
}

func TestCustomerProfileManager_ProfileFailureKeepsCustomer(t *testing.T) {
	gw := gateway.NewMockGateway(nil)
	m, customers, _ := newProfileManager(gw)
	ctx := context.Background()

	c, err := m.ResolveCustomer(ctx, "corr", domain.CustomerInfo{Email: "grace" + gateway.TestProfileFailureDomain})
	require.NoError(t, err)
	assert.False(t, c.HasGatewayProfile())

	stored, err := customers.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, stored.HasGatewayProfile())
}

func TestCustomerProfileManager_InvalidEmail(t *testing.T) {
	m, _, _ := newProfileManager(gateway.NewMockGateway(nil))

	_, err := m.ResolveCustomer(context.Background(), "", domain.CustomerInfo{Email: "nope"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCustomerProfileManager_ResolvePaymentMethod(t *testing.T) {
	m, _, methods := newProfileManager(gateway.NewMockGateway(nil))
	ctx := context.Background()
	c := &domain.Customer{ID: "cus-1"}

	pm, err := m.ResolvePaymentMethod(ctx, c, card(gateway.TestCardApprove))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodTypeCreditCard, pm.Type)
	assert.Equal(t, "1111", pm.CardLast4)
	assert.Equal(t, "visa", pm.CardBrand)

	tok, err := m.ResolvePaymentMethod(ctx, c, &domain.Token{Value: "pm_card_visa"})
	require.NoError(t, err)
	assert.Equal(t, "pm_card_visa", tok.GatewayToken)

	stored, err := methods.ListByCustomer(ctx, "cus-1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestCustomerProfileManager_ResolvePaymentMethodReusesToken(t *testing.T) {
	m, _, methods := newProfileManager(gateway.NewMockGateway(nil))
	ctx := context.Background()
	c := &domain.Customer{ID: "cus-1"}

	first, err := m.ResolvePaymentMethod(ctx, c, &domain.Token{Value: "pm_card_visa"})
	require.NoError(t, err)
	second, err := m.ResolvePaymentMethod(ctx, c, &domain.Token{Value: "pm_card_visa"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := m.ResolvePaymentMethod(ctx, &domain.Customer{ID: "cus-2"}, &domain.Token{Value: "pm_card_visa"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	stored, err := methods.ListByCustomer(ctx, "cus-1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestCustomerProfileManager_BackfillProfiles(t *testing.T) {
	spy := new(spyGateway)
	m, customers, _ := newProfileManager(spy)
	ctx := context.Background()

	spy.On("CreateCustomerProfile", mock.Anything, mock.Anything).Return("", gateway.ErrProfileCreationFailed).Twice()
	_, err := m.ResolveCustomer(ctx, "", domain.CustomerInfo{Email: "one@example.com"})
	require.NoError(t, err)
	_, err = m.ResolveCustomer(ctx, "", domain.CustomerInfo{Email: "two@example.com"})
	require.NoError(t, err)

	spy.On("CreateCustomerProfile", mock.Anything, mock.Anything).Return("cus_gw", nil)
	linked, err := m.BackfillProfiles(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, linked)

	pending, err := customers.ListWithoutGatewayProfile(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
