package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/refund"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
)

const metadataTransactionID = "transaction_id"

// StripeGateway implements Client using Stripe PaymentIntents
type StripeGateway struct {
	config *StripeGatewayConfig
}

// StripeGatewayConfig holds configuration for Stripe gateway
type StripeGatewayConfig struct {
	SecretKey string
}

// NewStripeGateway creates a new Stripe gateway
func NewStripeGateway(config *StripeGatewayConfig) (*StripeGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	// Set Stripe API key globally
	stripe.Key = config.SecretKey

	return &StripeGateway{
		config: config,
	}, nil
}

// Name returns the gateway name
func (g *StripeGateway) Name() string {
	return "stripe"
}

// Purchase confirms a PaymentIntent with automatic capture
func (g *StripeGateway) Purchase(ctx context.Context, req *PaymentRequest) (*Outcome, error) {
	return g.confirm(ctx, req, stripe.PaymentIntentCaptureMethodAutomatic)
}

// Authorize confirms a PaymentIntent with manual capture
func (g *StripeGateway) Authorize(ctx context.Context, req *PaymentRequest) (*Outcome, error) {
	return g.confirm(ctx, req, stripe.PaymentIntentCaptureMethodManual)
}

func (g *StripeGateway) confirm(ctx context.Context, req *PaymentRequest, method stripe.PaymentIntentCaptureMethod) (*Outcome, error) {
	if req == nil || req.PaymentMethod == nil {
		return nil, fmt.Errorf("payment request with payment method is required")
	}

	pmID, declined, err := g.resolvePaymentMethod(ctx, req)
	if err != nil || declined != nil {
		return declined, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(domain.ToMinorUnits(req.Amount, req.Currency)),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod:      stripe.String(pmID),
		PaymentMethodTypes: stripe.StringSlice([]string{paymentMethodType(req.PaymentMethod)}),
		CaptureMethod:      stripe.String(string(method)),
		Confirm:            stripe.Bool(true),
		Metadata: map[string]string{
			metadataTransactionID: req.TransactionID,
			"correlation_id":      req.CorrelationID,
		},
	}
	params.Context = ctx
	params.AddExpand("latest_charge")
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if req.Customer != nil && req.Customer.GatewayProfileID != "" {
		params.Customer = stripe.String(req.Customer.GatewayProfileID)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.InvoiceNumber != "" {
		params.Metadata["invoice_number"] = req.InvoiceNumber
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return classifyStripeError(err)
	}
	return paymentIntentOutcome(pi, method)
}

// resolvePaymentMethod returns a Stripe payment method id for the input, or a decline if Stripe rejects it
func (g *StripeGateway) resolvePaymentMethod(ctx context.Context, req *PaymentRequest) (string, *Outcome, error) {
	var params *stripe.PaymentMethodParams
	token := domain.MatchPaymentMethod(req.PaymentMethod,
		func(c *domain.CreditCard) string {
			params = &stripe.PaymentMethodParams{
				Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
				Card: &stripe.PaymentMethodCardParams{
					Number:   stripe.String(c.NormalizedNumber()),
					ExpMonth: stripe.Int64(int64(c.ExpMonth)),
					ExpYear:  stripe.Int64(int64(c.FullExpYear())),
				},
			}
			if c.CVV != "" {
				params.Card.CVC = stripe.String(c.CVV)
			}
			if c.HolderName != "" {
				params.BillingDetails = &stripe.PaymentMethodBillingDetailsParams{Name: stripe.String(c.HolderName)}
			}
			return ""
		},
		func(b *domain.BankAccount) string {
			holderType := "individual"
			accountType := string(b.AccountType)
			if b.AccountType == domain.BankAccountBusinessChecking {
				holderType = "company"
				accountType = string(domain.BankAccountChecking)
			}
			params = &stripe.PaymentMethodParams{
				Type: stripe.String(string(stripe.PaymentMethodTypeUSBankAccount)),
				USBankAccount: &stripe.PaymentMethodUSBankAccountParams{
					AccountHolderType: stripe.String(holderType),
					AccountNumber:     stripe.String(b.AccountNumber),
					AccountType:       stripe.String(accountType),
					RoutingNumber:     stripe.String(b.RoutingNumber),
				},
				BillingDetails: &stripe.PaymentMethodBillingDetailsParams{Name: stripe.String(b.NameOnAccount)},
			}
			return ""
		},
		func(t *domain.Token) string { return t.Value },
	)
	if token != "" {
		return token, nil, nil
	}

	params.Context = ctx
	pm, err := paymentmethod.New(params)
	if err != nil {
		out, cerr := classifyStripeError(err)
		return "", out, cerr
	}
	return pm.ID, nil, nil
}

// Capture captures a manual-capture PaymentIntent
func (g *StripeGateway) Capture(ctx context.Context, req *CaptureRequest) (*Outcome, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	params.AddMetadata(metadataTransactionID, req.TransactionID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if req.Amount.Valid {
		params.AmountToCapture = stripe.Int64(domain.ToMinorUnits(req.Amount.Decimal, req.Currency))
	}

	pi, err := paymentintent.Capture(req.ReferenceGatewayID, params)
	if err != nil {
		return classifyStripeError(err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return Declined(string(pi.Status), "payment intent was not captured"), nil
	}
	return Approved(chargeDetails(pi)), nil
}

// Void cancels an uncaptured PaymentIntent
func (g *StripeGateway) Void(ctx context.Context, req *VoidRequest) (*Outcome, error) {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := paymentintent.Cancel(req.ReferenceGatewayID, params)
	if err != nil {
		return classifyStripeError(err)
	}
	if pi.Status != stripe.PaymentIntentStatusCanceled {
		return Declined(string(pi.Status), "payment intent was not canceled"), nil
	}
	return Approved(domain.GatewayDetails{
		TransactionID: pi.ID,
		ResponseCode:  string(pi.Status),
	}), nil
}

// Refund creates a refund against a PaymentIntent
func (g *StripeGateway) Refund(ctx context.Context, req *RefundRequest) (*Outcome, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ReferenceGatewayID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
		Metadata:      map[string]string{metadataTransactionID: req.TransactionID},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if req.Amount.Valid {
		params.Amount = stripe.Int64(domain.ToMinorUnits(req.Amount.Decimal, req.Currency))
	}
	if req.Reason != "" {
		params.Metadata["reason"] = req.Reason
	}

	r, err := refund.New(params)
	if err != nil {
		return classifyStripeError(err)
	}
	return refundOutcome(r)
}

// Lookup finds the Stripe object created for an internal transaction id
func (g *StripeGateway) Lookup(ctx context.Context, req *LookupRequest) (*LookupResult, error) {
	switch req.Type {
	case domain.TransactionTypePurchase, domain.TransactionTypeAuthorize:
		params := &stripe.PaymentIntentSearchParams{}
		params.Context = ctx
		params.Query = fmt.Sprintf("metadata['%s']:'%s'", metadataTransactionID, req.TransactionID)
		params.AddExpand("data.latest_charge")

		iter := paymentintent.Search(params)
		for iter.Next() {
			method := stripe.PaymentIntentCaptureMethodAutomatic
			if req.Type == domain.TransactionTypeAuthorize {
				method = stripe.PaymentIntentCaptureMethodManual
			}
			out, err := paymentIntentOutcome(iter.PaymentIntent(), method)
			if err != nil {
				return nil, err
			}
			return &LookupResult{Found: true, Outcome: out}, nil
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("failed to search payment intents: %w", err)
		}
		return &LookupResult{Found: false}, nil

	case domain.TransactionTypeCapture, domain.TransactionTypeVoid:
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		params.AddExpand("latest_charge")
		pi, err := paymentintent.Get(req.ReferenceGatewayID, params)
		if err != nil {
			return nil, fmt.Errorf("failed to get payment intent: %w", err)
		}
		switch {
		case req.Type == domain.TransactionTypeCapture && pi.Status == stripe.PaymentIntentStatusSucceeded:
			return &LookupResult{Found: true, Outcome: Approved(chargeDetails(pi))}, nil
		case req.Type == domain.TransactionTypeVoid && pi.Status == stripe.PaymentIntentStatusCanceled:
			return &LookupResult{Found: true, Outcome: Approved(domain.GatewayDetails{TransactionID: pi.ID, ResponseCode: string(pi.Status)})}, nil
		}
		return &LookupResult{Found: false}, nil

	case domain.TransactionTypeRefund:
		params := &stripe.RefundListParams{PaymentIntent: stripe.String(req.ReferenceGatewayID)}
		params.Context = ctx
		iter := refund.List(params)
		for iter.Next() {
			r := iter.Refund()
			if r.Metadata[metadataTransactionID] != req.TransactionID {
				continue
			}
			out, err := refundOutcome(r)
			if err != nil {
				return nil, err
			}
			return &LookupResult{Found: true, Outcome: out}, nil
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("failed to list refunds: %w", err)
		}
		return &LookupResult{Found: false}, nil
	}
	return nil, fmt.Errorf("unsupported lookup type: %s", req.Type)
}

// CreateCustomerProfile creates a Stripe Customer
func (g *StripeGateway) CreateCustomerProfile(ctx context.Context, req *ProfileRequest) (string, error) {
	if req == nil || req.Email == "" {
		return "", fmt.Errorf("%w: email is required", ErrProfileCreationFailed)
	}

	params := &stripe.CustomerParams{
		Email:    stripe.String(req.Email),
		Metadata: map[string]string{"customer_id": req.CustomerID},
	}
	params.Context = ctx
	params.SetIdempotencyKey("customer-profile-" + req.CustomerID)
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	if req.Phone != "" {
		params.Phone = stripe.String(req.Phone)
	}

	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProfileCreationFailed, err)
	}
	return cust.ID, nil
}

func paymentMethodType(in domain.PaymentMethodInput) string {
	return domain.MatchPaymentMethod(in,
		func(*domain.CreditCard) string { return string(stripe.PaymentMethodTypeCard) },
		func(*domain.BankAccount) string { return string(stripe.PaymentMethodTypeUSBankAccount) },
		func(*domain.Token) string { return string(stripe.PaymentMethodTypeCard) },
	)
}

// paymentIntentOutcome maps a confirmed PaymentIntent to an Outcome
func paymentIntentOutcome(pi *stripe.PaymentIntent, method stripe.PaymentIntentCaptureMethod) (*Outcome, error) {
	if pi == nil || pi.ID == "" {
		return nil, fmt.Errorf("%w: payment intent without id", ErrMalformedResponse)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return Approved(chargeDetails(pi)), nil
	case stripe.PaymentIntentStatusRequiresCapture:
		if method == stripe.PaymentIntentCaptureMethodManual {
			return Approved(chargeDetails(pi)), nil
		}
	case stripe.PaymentIntentStatusProcessing:
		// ACH debits settle asynchronously; the reconciler picks up the final state
		return nil, fmt.Errorf("%w: payment intent %s is processing", ErrUnknownOutcome, pi.ID)
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			out := declineFromStripeError(pi.LastPaymentError)
			out.TransactionID = pi.ID
			return out, nil
		}
	}

	out := Declined(string(pi.Status), fmt.Sprintf("unexpected payment intent status: %s", pi.Status))
	out.TransactionID = pi.ID
	return out, nil
}

func refundOutcome(r *stripe.Refund) (*Outcome, error) {
	if r == nil || r.ID == "" {
		return nil, fmt.Errorf("%w: refund without id", ErrMalformedResponse)
	}
	switch r.Status {
	case stripe.RefundStatusSucceeded, stripe.RefundStatusPending:
		return Approved(domain.GatewayDetails{TransactionID: r.ID, ResponseCode: string(r.Status)}), nil
	}
	out := Declined(string(r.FailureReason), fmt.Sprintf("refund %s", r.Status))
	out.TransactionID = r.ID
	return out, nil
}

func chargeDetails(pi *stripe.PaymentIntent) domain.GatewayDetails {
	d := domain.GatewayDetails{
		TransactionID: pi.ID,
		ResponseCode:  string(pi.Status),
	}
	ch := pi.LatestCharge
	if ch == nil {
		return d
	}
	d.AuthCode = ch.AuthorizationCode
	if ch.Outcome != nil {
		d.ReasonCode = ch.Outcome.Reason
		d.ReasonText = ch.Outcome.SellerMessage
	}
	if ch.PaymentMethodDetails != nil && ch.PaymentMethodDetails.Card != nil && ch.PaymentMethodDetails.Card.Checks != nil {
		checks := ch.PaymentMethodDetails.Card.Checks
		d.AVSResult = string(checks.AddressPostalCodeCheck)
		d.CVVResult = string(checks.CVCCheck)
	}
	return d
}

func declineFromStripeError(se *stripe.Error) *Outcome {
	code := string(se.DeclineCode)
	if code == "" {
		code = string(se.Code)
	}
	return Declined(code, se.Msg)
}

// classifyStripeError separates declines from transport failures.
// A request that produced no Stripe error body may or may not have reached Stripe.
func classifyStripeError(err error) (*Outcome, error) {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return nil, fmt.Errorf("%w: %v", ErrUnknownOutcome, err)
	}

	switch {
	case se.HTTPStatusCode >= 500:
		return nil, fmt.Errorf("%w: stripe returned %d: %v", ErrUnknownOutcome, se.HTTPStatusCode, err)
	case se.Type == stripe.ErrorTypeIdempotency:
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	case se.HTTPStatusCode == 429:
		return Declined("rate_limit", se.Msg), nil
	case se.HTTPStatusCode == 401:
		return Declined("api_key_expired", se.Msg), nil
	}

	out := declineFromStripeError(se)
	if se.PaymentIntent != nil {
		out.TransactionID = se.PaymentIntent.ID
	}
	return out, nil
}
