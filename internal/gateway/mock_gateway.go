package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
)

// Test payment methods understood by MockGateway. Numbers follow the card network test ranges.
const (
	TestCardApprove            = "4111111111111111"
	TestCardDecline            = "4000000000000002"
	TestCardInsufficientFunds  = "4000000000009995"
	TestCardExpired            = "4000000000000069"
	TestCardIncorrectCVC       = "4000000000000127"
	TestCardProcessingError    = "4000000000000119"
	TestCardAVSMismatch        = "4000000000000010"
	TestCardTimeout            = "4000000000000259"
	TestCardTimeoutAfterCharge = "4000000000000341"
	TestCardMalformedResponse  = "4000000000003220"

	TestBankAccountDecline = "0000000002"
	TestTokenDecline       = "tok_decline"
	TestTokenTimeout       = "tok_timeout"

	// TestProfileFailureDomain makes CreateCustomerProfile fail for matching emails
	TestProfileFailureDomain = "@profile-fail.test"
)

// alphanumericChars for generating gateway-style IDs
const alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphanumericChars[rand.Intn(len(alphanumericChars))]
	}
	return string(b)
}

type mockPaymentState string

const (
	mockAuthorized mockPaymentState = "authorized"
	mockCaptured   mockPaymentState = "captured"
	mockVoided     mockPaymentState = "voided"
)

type mockPayment struct {
	state    mockPaymentState
	amount   decimal.Decimal
	captured decimal.Decimal
	refunded decimal.Decimal
}

// MockGateway implements Client with deterministic test payment methods
type MockGateway struct {
	config *MockGatewayConfig

	// results keyed by internal transaction id, used by Lookup
	results sync.Map

	mu       sync.Mutex
	payments map[string]*mockPayment
	replays  map[string]*Outcome

	calls    sync.Map
	profiles atomic.Int64
}

// MockGatewayConfig holds configuration for the mock gateway
type MockGatewayConfig struct {
	// Delay is the simulated processing delay
	Delay time.Duration

	// HangDelay is how long timeout test methods block when the context has no deadline
	HangDelay time.Duration

	// MaxAmount is the largest amount approved
	MaxAmount decimal.Decimal
}

// DefaultMockGatewayConfig returns default configuration
func DefaultMockGatewayConfig() *MockGatewayConfig {
	return &MockGatewayConfig{
		Delay:     0,
		HangDelay: time.Minute,
		MaxAmount: decimal.NewFromInt(1_000_000),
	}
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockGatewayConfig) *MockGateway {
	if config == nil {
		config = DefaultMockGatewayConfig()
	}
	if config.HangDelay <= 0 {
		config.HangDelay = time.Minute
	}
	if config.MaxAmount.IsZero() {
		config.MaxAmount = decimal.NewFromInt(1_000_000)
	}

	return &MockGateway{
		config:   config,
		payments: make(map[string]*mockPayment),
		replays:  make(map[string]*Outcome),
	}
}

// Name returns the gateway name
func (g *MockGateway) Name() string {
	return "mock"
}

// Calls returns how many times op was invoked
func (g *MockGateway) Calls(op string) int64 {
	if v, ok := g.calls.Load(op); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// TotalCalls returns the number of money-moving calls across all operations
func (g *MockGateway) TotalCalls() int64 {
	var total int64
	for _, op := range []string{"purchase", "authorize", "capture", "void", "refund"} {
		total += g.Calls(op)
	}
	return total
}

func (g *MockGateway) count(op string) {
	v, _ := g.calls.LoadOrStore(op, &atomic.Int64{})
	v.(*atomic.Int64).Add(1)
}

func (g *MockGateway) delay(ctx context.Context) error {
	if g.config.Delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.config.Delay):
		return nil
	}
}

// hang blocks like a gateway that never answers
func (g *MockGateway) hang(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.config.HangDelay):
		return fmt.Errorf("%w: no response from mock gateway", ErrUnknownOutcome)
	}
}

func (g *MockGateway) replay(key string) (*Outcome, bool) {
	if key == "" {
		return nil, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out, ok := g.replays[key]
	return out, ok
}

func (g *MockGateway) remember(txnID, key string, out *Outcome) {
	if txnID != "" {
		g.results.Store(txnID, out)
	}
	if key != "" {
		g.mu.Lock()
		g.replays[key] = out
		g.mu.Unlock()
	}
}

// Purchase authorizes and captures in one call
func (g *MockGateway) Purchase(ctx context.Context, req *PaymentRequest) (*Outcome, error) {
	g.count("purchase")
	return g.pay(ctx, req, true)
}

// Authorize places a hold
func (g *MockGateway) Authorize(ctx context.Context, req *PaymentRequest) (*Outcome, error) {
	g.count("authorize")
	return g.pay(ctx, req, false)
}

func (g *MockGateway) pay(ctx context.Context, req *PaymentRequest, capture bool) (*Outcome, error) {
	if req == nil || req.PaymentMethod == nil {
		return nil, fmt.Errorf("payment request with payment method is required")
	}
	if out, ok := g.replay(req.IdempotencyKey); ok {
		return out, nil
	}
	if err := g.delay(ctx); err != nil {
		return nil, err
	}

	trigger := domain.MatchPaymentMethod(req.PaymentMethod,
		func(c *domain.CreditCard) string { return c.NormalizedNumber() },
		func(b *domain.BankAccount) string { return b.AccountNumber },
		func(t *domain.Token) string { return t.Value },
	)

	var out *Outcome
	switch trigger {
	case TestCardTimeout, TestTokenTimeout:
		return nil, g.hang(ctx)
	case TestCardMalformedResponse:
		return nil, fmt.Errorf("%w: response missing transaction id", ErrMalformedResponse)
	case TestCardDecline, TestBankAccountDecline, TestTokenDecline:
		out = Declined("generic_decline", "Your card was declined.")
	case TestCardInsufficientFunds:
		out = Declined("insufficient_funds", "Your card has insufficient funds.")
	case TestCardExpired:
		out = Declined("expired_card", "Your card has expired.")
	case TestCardIncorrectCVC:
		out = Declined("incorrect_cvc", "Your card's security code is incorrect.")
	case TestCardProcessingError:
		out = Declined("processing_error", "An error occurred while processing your card.")
	case TestCardAVSMismatch:
		out = Declined("incorrect_zip", "The address did not match.")
	}
	if out == nil && req.Amount.GreaterThan(g.config.MaxAmount) {
		out = Declined("amount_too_large", "The amount exceeds the maximum allowed.")
	}

	if out == nil {
		gatewayID := "mock_txn_" + randomAlphanumeric(16)
		p := &mockPayment{state: mockAuthorized, amount: req.Amount, captured: decimal.Zero, refunded: decimal.Zero}
		if capture {
			p.state = mockCaptured
			p.captured = req.Amount
		}
		g.mu.Lock()
		g.payments[gatewayID] = p
		g.mu.Unlock()

		out = Approved(domain.GatewayDetails{
			TransactionID: gatewayID,
			AuthCode:      strings.ToUpper(randomAlphanumeric(6)),
			AVSResult:     "Y",
			CVVResult:     "M",
			ResponseCode:  "1",
			ReasonCode:    "1",
			ReasonText:    "This transaction has been approved.",
		})
	} else {
		out.ResponseCode = "2"
	}

	g.remember(req.TransactionID, req.IdempotencyKey, out)

	if trigger == TestCardTimeoutAfterCharge {
		return nil, g.hang(ctx)
	}
	return out, nil
}

// Capture captures a prior authorization
func (g *MockGateway) Capture(ctx context.Context, req *CaptureRequest) (*Outcome, error) {
	g.count("capture")
	if out, ok := g.replay(req.IdempotencyKey); ok {
		return out, nil
	}
	if err := g.delay(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	out := func() *Outcome {
		p, ok := g.payments[req.ReferenceGatewayID]
		if !ok {
			return Declined("resource_missing", "No such payment.")
		}
		if p.state != mockAuthorized {
			return Declined("payment_intent_unexpected_state", "Payment is not awaiting capture.")
		}
		amount := p.amount
		if req.Amount.Valid {
			amount = req.Amount.Decimal
		}
		if amount.GreaterThan(p.amount) {
			return Declined("amount_too_large", "Capture exceeds the authorized amount.")
		}
		p.state = mockCaptured
		p.captured = amount
		return Approved(domain.GatewayDetails{
			TransactionID: "mock_cap_" + randomAlphanumeric(16),
			ResponseCode:  "1",
			ReasonCode:    "1",
			ReasonText:    "This transaction has been approved.",
		})
	}()
	g.mu.Unlock()

	g.remember(req.TransactionID, req.IdempotencyKey, out)
	return out, nil
}

// Void cancels a prior authorization
func (g *MockGateway) Void(ctx context.Context, req *VoidRequest) (*Outcome, error) {
	g.count("void")
	if out, ok := g.replay(req.IdempotencyKey); ok {
		return out, nil
	}
	if err := g.delay(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	out := func() *Outcome {
		p, ok := g.payments[req.ReferenceGatewayID]
		if !ok {
			return Declined("resource_missing", "No such payment.")
		}
		if p.state != mockAuthorized {
			return Declined("payment_intent_unexpected_state", "Only authorizations can be voided.")
		}
		p.state = mockVoided
		return Approved(domain.GatewayDetails{
			TransactionID: "mock_void_" + randomAlphanumeric(16),
			ResponseCode:  "1",
			ReasonCode:    "1",
			ReasonText:    "This transaction has been approved.",
		})
	}()
	g.mu.Unlock()

	g.remember(req.TransactionID, req.IdempotencyKey, out)
	return out, nil
}

// Refund returns captured funds
func (g *MockGateway) Refund(ctx context.Context, req *RefundRequest) (*Outcome, error) {
	g.count("refund")
	if out, ok := g.replay(req.IdempotencyKey); ok {
		return out, nil
	}
	if err := g.delay(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	out := func() *Outcome {
		p, ok := g.payments[req.ReferenceGatewayID]
		if !ok {
			return Declined("resource_missing", "No such payment.")
		}
		if p.state != mockCaptured {
			return Declined("payment_intent_unexpected_state", "Payment has not been captured.")
		}
		remaining := p.captured.Sub(p.refunded)
		amount := remaining
		if req.Amount.Valid {
			amount = req.Amount.Decimal
		}
		if !remaining.IsPositive() {
			return Declined("charge_already_refunded", "Charge has already been refunded.")
		}
		if amount.GreaterThan(remaining) {
			return Declined("amount_too_large", "Refund exceeds the remaining captured amount.")
		}
		p.refunded = p.refunded.Add(amount)
		return Approved(domain.GatewayDetails{
			TransactionID: "mock_ref_" + randomAlphanumeric(16),
			ResponseCode:  "1",
			ReasonCode:    "1",
			ReasonText:    "This transaction has been approved.",
		})
	}()
	g.mu.Unlock()

	g.remember(req.TransactionID, req.IdempotencyKey, out)
	return out, nil
}

// Lookup returns the recorded result for an internal transaction id
func (g *MockGateway) Lookup(ctx context.Context, req *LookupRequest) (*LookupResult, error) {
	g.count("lookup")
	if err := g.delay(ctx); err != nil {
		return nil, err
	}
	if v, ok := g.results.Load(req.TransactionID); ok {
		out := *v.(*Outcome)
		return &LookupResult{Found: true, Outcome: &out}, nil
	}
	return &LookupResult{Found: false}, nil
}

// CreateCustomerProfile creates a mock customer profile
func (g *MockGateway) CreateCustomerProfile(ctx context.Context, req *ProfileRequest) (string, error) {
	g.count("profile")
	if err := g.delay(ctx); err != nil {
		return "", err
	}
	if req == nil || req.Email == "" {
		return "", fmt.Errorf("%w: email is required", ErrProfileCreationFailed)
	}
	if strings.HasSuffix(strings.ToLower(req.Email), TestProfileFailureDomain) {
		return "", fmt.Errorf("%w: profile service unavailable", ErrProfileCreationFailed)
	}
	n := g.profiles.Add(1)
	return fmt.Sprintf("mock_cus_%d_%s", n, randomAlphanumeric(8)), nil
}
