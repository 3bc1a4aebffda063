package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
)

func card(number string) *domain.CreditCard {
	return &domain.CreditCard{Number: number, ExpMonth: 12, ExpYear: 2030, CVV: "123"}
}

func paymentReq(txnID string, pm domain.PaymentMethodInput) *PaymentRequest {
	return &PaymentRequest{
		TransactionID: txnID,
		Amount:        decimal.RequireFromString("100.00"),
		Currency:      "USD",
		PaymentMethod: pm,
	}
}

func TestNewMockGateway(t *testing.T) {
	gw := NewMockGateway(nil)
	require.NotNil(t, gw)
	assert.Equal(t, "mock", gw.Name())
}

func TestMockGateway_Purchase_Approved(t *testing.T) {
	gw := NewMockGateway(nil)

	out, err := gw.Purchase(context.Background(), paymentReq("t1", card(TestCardApprove)))
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.NotEmpty(t, out.TransactionID)
	assert.NotEmpty(t, out.AuthCode)
	assert.Equal(t, int64(1), gw.Calls("purchase"))
}

func TestMockGateway_Declines(t *testing.T) {
	tests := []struct {
		name   string
		pm     domain.PaymentMethodInput
		reason string
	}{
		{"generic decline", card(TestCardDecline), "generic_decline"},
		{"insufficient funds", card(TestCardInsufficientFunds), "insufficient_funds"},
		{"expired", card(TestCardExpired), "expired_card"},
		{"cvc", card(TestCardIncorrectCVC), "incorrect_cvc"},
		{"processing", card(TestCardProcessingError), "processing_error"},
		{"avs", card(TestCardAVSMismatch), "incorrect_zip"},
		{"token", &domain.Token{Value: TestTokenDecline}, "generic_decline"},
		{"bank", &domain.BankAccount{AccountNumber: TestBankAccountDecline}, "generic_decline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := NewMockGateway(nil)
			out, err := gw.Purchase(context.Background(), paymentReq("t1", tt.pm))
			require.NoError(t, err)
			assert.False(t, out.Success)
			assert.Equal(t, tt.reason, out.ReasonCode)
		})
	}
}

func TestMockGateway_AmountLimit(t *testing.T) {
	gw := NewMockGateway(nil)
	req := paymentReq("t1", card(TestCardApprove))
	req.Amount = decimal.NewFromInt(2_000_000)

	out, err := gw.Purchase(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "amount_too_large", out.ReasonCode)
}

func TestMockGateway_Timeout(t *testing.T) {
	gw := NewMockGateway(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gw.Purchase(ctx, paymentReq("t1", card(TestCardTimeout)))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	res, err := gw.Lookup(context.Background(), &LookupRequest{TransactionID: "t1"})
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestMockGateway_TimeoutAfterCharge(t *testing.T) {
	gw := NewMockGateway(&MockGatewayConfig{HangDelay: 10 * time.Millisecond})

	_, err := gw.Authorize(context.Background(), paymentReq("t1", card(TestCardTimeoutAfterCharge)))
	assert.True(t, errors.Is(err, ErrUnknownOutcome))

	res, err := gw.Lookup(context.Background(), &LookupRequest{TransactionID: "t1"})
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.True(t, res.Outcome.Success)
	assert.NotEmpty(t, res.Outcome.TransactionID)
}

func TestMockGateway_MalformedResponse(t *testing.T) {
	gw := NewMockGateway(nil)
	_, err := gw.Purchase(context.Background(), paymentReq("t1", card(TestCardMalformedResponse)))
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestMockGateway_IdempotentReplay(t *testing.T) {
	gw := NewMockGateway(nil)
	req := paymentReq("t1", card(TestCardApprove))
	req.IdempotencyKey = "key-1"

	first, err := gw.Purchase(context.Background(), req)
	require.NoError(t, err)
	second, err := gw.Purchase(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID)
}

func TestMockGateway_AuthorizeCaptureRefund(t *testing.T) {
	gw := NewMockGateway(nil)
	ctx := context.Background()

	auth, err := gw.Authorize(ctx, paymentReq("a1", card(TestCardApprove)))
	require.NoError(t, err)
	require.True(t, auth.Success)

	over, err := gw.Capture(ctx, &CaptureRequest{
		TransactionID:      "c0",
		ReferenceGatewayID: auth.TransactionID,
		Amount:             decimal.NewNullDecimal(decimal.NewFromInt(101)),
	})
	require.NoError(t, err)
	assert.False(t, over.Success)

	capture, err := gw.Capture(ctx, &CaptureRequest{TransactionID: "c1", ReferenceGatewayID: auth.TransactionID})
	require.NoError(t, err)
	require.True(t, capture.Success)

	again, err := gw.Capture(ctx, &CaptureRequest{TransactionID: "c2", ReferenceGatewayID: auth.TransactionID})
	require.NoError(t, err)
	assert.False(t, again.Success)

	partial, err := gw.Refund(ctx, &RefundRequest{
		TransactionID:      "r1",
		ReferenceGatewayID: auth.TransactionID,
		Amount:             decimal.NewNullDecimal(decimal.NewFromInt(40)),
	})
	require.NoError(t, err)
	assert.True(t, partial.Success)

	rest, err := gw.Refund(ctx, &RefundRequest{TransactionID: "r2", ReferenceGatewayID: auth.TransactionID})
	require.NoError(t, err)
	assert.True(t, rest.Success)

	none, err := gw.Refund(ctx, &RefundRequest{TransactionID: "r3", ReferenceGatewayID: auth.TransactionID})
	require.NoError(t, err)
	assert.False(t, none.Success)
	assert.Equal(t, "charge_already_refunded", none.ReasonCode)
}

func TestMockGateway_Void(t *testing.T) {
	gw := NewMockGateway(nil)
	ctx := context.Background()

	auth, err := gw.Authorize(ctx, paymentReq("a1", card(TestCardApprove)))
	require.NoError(t, err)

	v, err := gw.Void(ctx, &VoidRequest{TransactionID: "v1", ReferenceGatewayID: auth.TransactionID})
	require.NoError(t, err)
	assert.True(t, v.Success)

	c, err := gw.Capture(ctx, &CaptureRequest{TransactionID: "c1", ReferenceGatewayID: auth.TransactionID})
	require.NoError(t, err)
	assert.False(t, c.Success)

	missing, err := gw.Void(ctx, &VoidRequest{TransactionID: "v2", ReferenceGatewayID: "nope"})
	require.NoError(t, err)
	assert.Equal(t, "resource_missing", missing.ReasonCode)
}

func TestMockGateway_CreateCustomerProfile(t *testing.T) {
	gw := NewMockGateway(nil)

	id, err := gw.CreateCustomerProfile(context.Background(), &ProfileRequest{CustomerID: "c1", Email: "jane@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = gw.CreateCustomerProfile(context.Background(), &ProfileRequest{CustomerID: "c2", Email: "x" + TestProfileFailureDomain})
	assert.True(t, errors.Is(err, ErrProfileCreationFailed))
}
