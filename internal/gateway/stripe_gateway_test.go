package gateway

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStripeError(t *testing.T) {
	declined := &stripe.Error{
		Type:           stripe.ErrorTypeCard,
		Code:           stripe.ErrorCodeCardDeclined,
		DeclineCode:    stripe.DeclineCodeInsufficientFunds,
		Msg:            "Your card has insufficient funds.",
		HTTPStatusCode: 402,
		PaymentIntent:  &stripe.PaymentIntent{ID: "pi_123"},
	}
	out, err := classifyStripeError(declined)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "insufficient_funds", out.ReasonCode)
	assert.Equal(t, "pi_123", out.TransactionID)

	_, err = classifyStripeError(&stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: 503})
	assert.True(t, errors.Is(err, ErrUnknownOutcome))

	_, err = classifyStripeError(fmt.Errorf("dial tcp: connection reset"))
	assert.True(t, errors.Is(err, ErrUnknownOutcome))

	out, err = classifyStripeError(&stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: 404})
	require.NoError(t, err)
	assert.Equal(t, "resource_missing", out.ReasonCode)
}

func TestPaymentIntentOutcome(t *testing.T) {
	out, err := paymentIntentOutcome(&stripe.PaymentIntent{
		ID:     "pi_1",
		Status: stripe.PaymentIntentStatusSucceeded,
		LatestCharge: &stripe.Charge{
			AuthorizationCode: "123456",
		},
	}, stripe.PaymentIntentCaptureMethodAutomatic)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "pi_1", out.TransactionID)
	assert.Equal(t, "123456", out.AuthCode)

	out, err = paymentIntentOutcome(&stripe.PaymentIntent{ID: "pi_2", Status: stripe.PaymentIntentStatusRequiresCapture}, stripe.PaymentIntentCaptureMethodManual)
	require.NoError(t, err)
	assert.True(t, out.Success)

	out, err = paymentIntentOutcome(&stripe.PaymentIntent{ID: "pi_3", Status: stripe.PaymentIntentStatusRequiresCapture}, stripe.PaymentIntentCaptureMethodAutomatic)
	require.NoError(t, err)
	assert.False(t, out.Success)

	out, err = paymentIntentOutcome(&stripe.PaymentIntent{
		ID:               "pi_4",
		Status:           stripe.PaymentIntentStatusRequiresPaymentMethod,
		LastPaymentError: &stripe.Error{Code: stripe.ErrorCodeCardDeclined, DeclineCode: stripe.DeclineCodeGenericDecline},
	}, stripe.PaymentIntentCaptureMethodAutomatic)
	require.NoError(t, err)
	assert.Equal(t, "generic_decline", out.ReasonCode)

	_, err = paymentIntentOutcome(&stripe.PaymentIntent{ID: "pi_5", Status: stripe.PaymentIntentStatusProcessing}, stripe.PaymentIntentCaptureMethodAutomatic)
	assert.True(t, errors.Is(err, ErrUnknownOutcome))

	_, err = paymentIntentOutcome(&stripe.PaymentIntent{}, stripe.PaymentIntentCaptureMethodAutomatic)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}
