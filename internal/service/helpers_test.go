package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/gateway"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/repository"
)

// fixture wires an orchestrator over in-memory stores and the mock gateway
type fixture struct {
	txns       *repository.MemoryTransactionRepository
	customers  *repository.MemoryCustomerRepository
	methods    *repository.MemoryPaymentMethodRepository
	idem       *repository.MemoryIdempotencyStore
	locker     *repository.MemoryLocker
	mock       *gateway.MockGateway
	reconciler *Reconciler
	orch       *TransactionOrchestrator
}

type fixtureConfig struct {
	callTimeout time.Duration
	mockDelay   time.Duration
	minAge      time.Duration
	metrics     Metrics
	orch        OrchestratorConfig
}

func newFixture(t *testing.T, mutate ...func(*fixtureConfig)) *fixture {
	t.Helper()
	cfg := fixtureConfig{
		callTimeout: 2 * time.Second,
		minAge:      time.Hour,
		orch: OrchestratorConfig{
			InFlightWait: 5 * time.Second,
			PollInterval: 5 * time.Millisecond,
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}

	store := repository.NewMemoryStore()
	f := &fixture{
		txns:      repository.NewMemoryTransactionRepository(store),
		customers: repository.NewMemoryCustomerRepository(store),
		methods:   repository.NewMemoryPaymentMethodRepository(store),
		idem:      repository.NewMemoryIdempotencyStore(repository.DefaultIdempotencyTTL()),
		locker:    repository.NewMemoryLocker(),
		mock:      gateway.NewMockGateway(&gateway.MockGatewayConfig{Delay: cfg.mockDelay}),
	}
	gw := gateway.NewTimeoutClient(f.mock, cfg.callTimeout)
	f.orch = f.newOrchestrator(gw, &cfg)
	return f
}

// newOrchestrator builds an orchestrator over the fixture's stores with another gateway
func (f *fixture) newOrchestrator(gw gateway.Client, cfg *fixtureConfig) *TransactionOrchestrator {
	if cfg == nil {
		cfg = &fixtureConfig{minAge: time.Hour, orch: OrchestratorConfig{PollInterval: 5 * time.Millisecond}}
	}
	f.reconciler = NewReconciler(f.txns, gw, nil, nil, cfg.metrics, nil, &ReconcilerConfig{
		MinAge:         cfg.minAge,
		LookupRetries:  0,
		LookupInterval: time.Millisecond,
	})
	orchCfg := cfg.orch
	return NewTransactionOrchestrator(OrchestratorDeps{
		Transactions: f.txns,
		Idempotency:  f.idem,
		Locker:       f.locker,
		Profiles:     NewCustomerProfileManager(f.customers, f.methods, gw, nil),
		Gateway:      gw,
		Reconciler:   f.reconciler,
		Metrics:      cfg.metrics,
	}, &orchCfg)
}

func card(number string) *domain.CreditCard {
	return &domain.CreditCard{
		Number:     number,
		ExpMonth:   12,
		ExpYear:    time.Now().Year() + 3,
		CVV:        "123",
		HolderName: "Ada Lovelace",
	}
}

func intent(number, amount, email string) domain.PaymentIntent {
	return domain.PaymentIntent{
		Amount:   decimal.RequireFromString(amount),
		Currency: "usd",
		Customer: domain.CustomerInfo{
			Email:     email,
			FirstName: "Ada",
			LastName:  "Lovelace",
		},
		PaymentMethod: card(number),
		Description:   "order",
	}
}

func meta(key string) domain.RequestMeta {
	return domain.RequestMeta{IdempotencyKey: key, CorrelationID: "corr-" + key}
}

func purchaseReq(key, number, amount string) *domain.PurchaseRequest {
	return &domain.PurchaseRequest{RequestMeta: meta(key), PaymentIntent: intent(number, amount, "buyer@example.com")}
}

func authorizeReq(key, number, amount string) *domain.AuthorizeRequest {
	return &domain.AuthorizeRequest{RequestMeta: meta(key), PaymentIntent: intent(number, amount, "buyer@example.com")}
}

func amountOf(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// seedAuthorized stores an AUTHORIZED transaction without touching a gateway
func seedAuthorized(t *testing.T, txns repository.TransactionRepository, amount string) *domain.Transaction {
	t.Helper()
	txn := domain.NewTransaction(domain.TransactionTypeAuthorize, amountOf(amount), "USD")
	if err := txn.Approve(domain.GatewayDetails{TransactionID: "gw_auth_" + txn.ID[:8]}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := txns.Create(context.Background(), txn); err != nil {
		t.Fatalf("create: %v", err)
	}
	return txn
}

// spyGateway is a testify mock of gateway.Client
type spyGateway struct {
	mock.Mock
}

func (m *spyGateway) Name() string { return "spy" }

func (m *spyGateway) outcome(args mock.Arguments) (*gateway.Outcome, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Outcome), args.Error(1)
}

func (m *spyGateway) Purchase(ctx context.Context, req *gateway.PaymentRequest) (*gateway.Outcome, error) {
	return m.outcome(m.Called(ctx, req))
}

func (m *spyGateway) Authorize(ctx context.Context, req *gateway.PaymentRequest) (*gateway.Outcome, error) {
	return m.outcome(m.Called(ctx, req))
}

func (m *spyGateway) Capture(ctx context.Context, req *gateway.CaptureRequest) (*gateway.Outcome, error) {
	return m.outcome(m.Called(ctx, req))
}

func (m *spyGateway) Void(ctx context.Context, req *gateway.VoidRequest) (*gateway.Outcome, error) {
	return m.outcome(m.Called(ctx, req))
}

func (m *spyGateway) Refund(ctx context.Context, req *gateway.RefundRequest) (*gateway.Outcome, error) {
	return m.outcome(m.Called(ctx, req))
}

func (m *spyGateway) Lookup(ctx context.Context, req *gateway.LookupRequest) (*gateway.LookupResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.LookupResult), args.Error(1)
}

func (m *spyGateway) CreateCustomerProfile(ctx context.Context, req *gateway.ProfileRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// recordingMetrics counts calls by method
type recordingMetrics struct {
	mock.Mock
}

func (m *recordingMetrics) TransactionStarted(ctx context.Context, t domain.TransactionType) {
	m.Called(t)
}

func (m *recordingMetrics) TransactionCompleted(ctx context.Context, t domain.TransactionType, status domain.TransactionStatus, elapsed time.Duration) {
	m.Called(t, status)
}

func (m *recordingMetrics) TransactionError(ctx context.Context, t domain.TransactionType, code domain.ErrorCode) {
	m.Called(t, code)
}

func (m *recordingMetrics) IdempotentReplay(ctx context.Context, t domain.TransactionType) {
	m.Called(t)
}

func (m *recordingMetrics) Reconciled(ctx context.Context, result string) {
	m.Called(result)
}

type panickingMetrics struct{}

func (panickingMetrics) TransactionStarted(context.Context, domain.TransactionType) {
	panic("metrics backend down")
}

func (panickingMetrics) TransactionCompleted(context.Context, domain.TransactionType, domain.TransactionStatus, time.Duration) {
	panic("metrics backend down")
}

func (panickingMetrics) TransactionError(context.Context, domain.TransactionType, domain.ErrorCode) {
	panic("metrics backend down")
}

func (panickingMetrics) IdempotentReplay(context.Context, domain.TransactionType) {
	panic("metrics backend down")
}

func (panickingMetrics) Reconciled(context.Context, string) {
	panic("metrics backend down")
}
