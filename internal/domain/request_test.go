package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validIntent() PaymentIntent {
	return PaymentIntent{
		Amount:        decimal.RequireFromString("100.00"),
		Currency:      "usd",
		Customer:      CustomerInfo{Email: "jane@example.com", FirstName: "Jane"},
		PaymentMethod: &CreditCard{Number: "4111111111111111", ExpMonth: 12, ExpYear: 2030, CVV: "123"},
	}
}

func TestPaymentIntent_Normalize(t *testing.T) {
	p := validIntent()
	require.NoError(t, p.Normalize(testNow))
	assert.Equal(t, "USD", p.Currency)

	tests := []struct {
		name   string
		mutate func(p *PaymentIntent)
		want   error
	}{
		{"zero amount", func(p *PaymentIntent) { p.Amount = decimal.Zero }, ErrInvalidAmount},
		{"too many decimals", func(p *PaymentIntent) { p.Amount = decimal.RequireFromString("1.001") }, ErrInvalidAmount},
		{"unknown currency", func(p *PaymentIntent) { p.Currency = "XXX" }, ErrInvalidCurrency},
		{"bad email", func(p *PaymentIntent) { p.Customer.Email = "not-an-email" }, ErrInvalidEmail},
		{"missing method", func(p *PaymentIntent) { p.PaymentMethod = nil }, ErrInvalidPaymentMethod},
		{"jpy decimals", func(p *PaymentIntent) { p.Currency = "JPY"; p.Amount = decimal.RequireFromString("100.5") }, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validIntent()
			tt.mutate(&p)
			err := p.Normalize(testNow)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := &PurchaseRequest{RequestMeta: RequestMeta{IdempotencyKey: "k"}, PaymentIntent: validIntent()}
	b := &PurchaseRequest{RequestMeta: RequestMeta{IdempotencyKey: "k", CorrelationID: "other"}, PaymentIntent: validIntent()}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Amount = decimal.RequireFromString("100.01")
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	auth := &AuthorizeRequest{PaymentIntent: validIntent()}
	assert.NotEqual(t, a.Fingerprint(), auth.Fingerprint())

	full := &RefundRequest{TransactionID: "t1"}
	partial := &RefundRequest{TransactionID: "t1", Amount: decimal.NewNullDecimal(decimal.RequireFromString("5"))}
	assert.NotEqual(t, full.Fingerprint(), partial.Fingerprint())
}

func TestFingerprint_NoRawCardNumber(t *testing.T) {
	p := validIntent()
	assert.NotContains(t, p.fingerprint(), "4111111111111111")
}

func TestValidateReference(t *testing.T) {
	assert.True(t, errors.Is(ValidateReference("", decimal.NullDecimal{}), ErrMissingReference))
	id := uuid.New().String()
	assert.True(t, errors.Is(ValidateReference(id, decimal.NewNullDecimal(decimal.Zero)), ErrInvalidAmount))
	assert.NoError(t, ValidateReference(id, decimal.NullDecimal{}))

	err := ValidateReference("not-a-uuid", decimal.NullDecimal{})
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestIsValidID(t *testing.T) {
	assert.True(t, IsValidID(uuid.New().String()))
	assert.False(t, IsValidID("abc"))
	assert.False(t, IsValidID(""))
	assert.False(t, IsValidID("{"+uuid.New().String()+"}"))
	assert.False(t, IsValidID("urn:uuid:"+uuid.New().String()))
}

func TestValidateAmount_Bounds(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		wantErr  bool
	}{
		{"smallest usd", "0.01", "USD", false},
		{"largest usd", "999999999999999.99", "USD", false},
		{"largest kwd", "999999999999999.999", "KWD", false},
		{"at limit", "1000000000000000", "USD", true},
		{"overflows minor units", "100000000000000000000", "USD", true},
		{"zero", "0", "USD", true},
		{"too many places", "1.001", "USD", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(decimal.RequireFromString(tt.amount), tt.currency)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			units := ToMinorUnits(decimal.RequireFromString(tt.amount), tt.currency)
			assert.True(t, FromMinorUnits(units, tt.currency).Equal(decimal.RequireFromString(tt.amount)))
		})
	}
}

func TestCurrencyMinorUnits(t *testing.T) {
	assert.Equal(t, int64(10025), ToMinorUnits(decimal.RequireFromString("100.25"), "USD"))
	assert.Equal(t, int64(500), ToMinorUnits(decimal.RequireFromString("500"), "JPY"))
	assert.True(t, FromMinorUnits(10025, "usd").Equal(decimal.RequireFromString("100.25")))
	assert.True(t, FromMinorUnits(1500, "KWD").Equal(decimal.RequireFromString("1.5")))
}

func TestCustomer(t *testing.T) {
	c, err := NewCustomer(CustomerInfo{Email: " Jane@Example.COM ", FirstName: "Jane", LastName: "Doe"})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", c.Email)
	assert.Equal(t, "Jane Doe", c.FullName())
	assert.False(t, c.HasGatewayProfile())

	c.LinkGatewayProfile("cus_1")
	c.LinkGatewayProfile("cus_2")
	assert.Equal(t, "cus_1", c.GatewayProfileID)

	_, err = NewCustomer(CustomerInfo{Email: "Jane <jane@example.com>"})
	assert.True(t, errors.Is(err, ErrInvalidEmail))
}
