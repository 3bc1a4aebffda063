package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/events"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/gateway"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/repository"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/translator"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/logger"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/telemetry"
)

const (
	maxReserveAttempts  = 3
	defaultListLimit    = 20
	maxListLimit        = 100
	lockKeyPrefix       = "transaction:"
	unknownOutcomeMsg   = "the gateway did not confirm the operation"
	unrecordedOutcome   = "the operation result was not recorded"
	malformedOutcomeMsg = "the gateway returned an unreadable response"
)

// errReservationReleased means the in-flight holder of a key gave it up before creating a transaction
var errReservationReleased = errors.New("idempotency reservation released")

// OrchestratorConfig contains configuration for the transaction orchestrator
type OrchestratorConfig struct {
	// InFlightWait bounds how long a duplicate request waits for the in-flight original
	InFlightWait time.Duration
	// PollInterval is how often a waiting duplicate checks the idempotency store
	PollInterval time.Duration
	// LockTTL bounds how long a follow-on holds the lock on its referenced transaction
	LockTTL time.Duration
	// ReconcileTimeout bounds the inline reconciliation after an unknown outcome
	ReconcileTimeout time.Duration
}

// DefaultOrchestratorConfig returns default orchestrator configuration
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		InFlightWait:     35 * time.Second,
		PollInterval:     100 * time.Millisecond,
		LockTTL:          2 * time.Minute,
		ReconcileTimeout: 45 * time.Second,
	}
}

// OrchestratorDeps are the collaborators of the orchestrator.
// Translator, Reconciler, Events, Metrics and Logger are optional.
type OrchestratorDeps struct {
	Transactions repository.TransactionRepository
	Idempotency  repository.IdempotencyStore
	Locker       repository.Locker
	Profiles     *CustomerProfileManager
	Gateway      gateway.Client
	Translator   *translator.Translator
	Reconciler   *Reconciler
	Events       events.Publisher
	Metrics      Metrics
	Logger       *logger.Logger
}

// Orchestrator is the payment operation surface used by the HTTP layer
type Orchestrator interface {
	Purchase(ctx context.Context, req *domain.PurchaseRequest) (*domain.PaymentOutcome, error)
	Authorize(ctx context.Context, req *domain.AuthorizeRequest) (*domain.PaymentOutcome, error)
	Capture(ctx context.Context, req *domain.CaptureRequest) (*domain.PaymentOutcome, error)
	Void(ctx context.Context, req *domain.VoidRequest) (*domain.PaymentOutcome, error)
	Refund(ctx context.Context, req *domain.RefundRequest) (*domain.PaymentOutcome, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, customerID string, limit, offset int) ([]*domain.Transaction, error)
}

var _ Orchestrator = (*TransactionOrchestrator)(nil)

// TransactionOrchestrator runs purchase, authorize, capture, void and refund against the gateway
type TransactionOrchestrator struct {
	txns       repository.TransactionRepository
	idem       repository.IdempotencyStore
	locker     repository.Locker
	profiles   *CustomerProfileManager
	gateway    gateway.Client
	translator *translator.Translator
	reconciler *Reconciler
	events     events.Publisher
	metrics    *safeMetrics
	log        *logger.Logger
	cfg        OrchestratorConfig
}

// NewTransactionOrchestrator creates a new transaction orchestrator
func NewTransactionOrchestrator(deps OrchestratorDeps, cfg *OrchestratorConfig) *TransactionOrchestrator {
	c := *DefaultOrchestratorConfig()
	if cfg != nil {
		if cfg.InFlightWait > 0 {
			c.InFlightWait = cfg.InFlightWait
		}
		if cfg.PollInterval > 0 {
			c.PollInterval = cfg.PollInterval
		}
		if cfg.LockTTL > 0 {
			c.LockTTL = cfg.LockTTL
		}
		if cfg.ReconcileTimeout > 0 {
			c.ReconcileTimeout = cfg.ReconcileTimeout
		}
	}

	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("orchestrator")

	tr := deps.Translator
	if tr == nil {
		tr = translator.New()
	}
	pub := deps.Events
	if pub == nil {
		pub = events.NewNoopPublisher()
	}

	return &TransactionOrchestrator{
		txns:       deps.Transactions,
		idem:       deps.Idempotency,
		locker:     deps.Locker,
		profiles:   deps.Profiles,
		gateway:    deps.Gateway,
		translator: tr,
		reconciler: deps.Reconciler,
		events:     pub,
		metrics:    newSafeMetrics(deps.Metrics, log),
		log:        log,
		cfg:        c,
	}
}

// executeFunc performs one operation after deduplication.
// A nil transaction means nothing was persisted and the idempotency key may be reused.
type executeFunc func(ctx context.Context, log *logger.Logger) (*domain.Transaction, error)

// opRun carries one operation through deduplication, execution and response mapping
type opRun struct {
	txnType     domain.TransactionType
	meta        domain.RequestMeta
	fingerprint string
	execute     executeFunc
	log         *logger.Logger
	span        trace.Span
	start       time.Time
}

// Purchase authorizes and captures in one gateway call
func (o *TransactionOrchestrator) Purchase(ctx context.Context, req *domain.PurchaseRequest) (*domain.PaymentOutcome, error) {
	if req == nil {
		return o.reject(domain.TransactionTypePurchase, domain.ErrValidation)
	}
	return o.run(ctx, &opRun{
		txnType:     domain.TransactionTypePurchase,
		meta:        req.RequestMeta,
		fingerprint: req.Fingerprint(),
		execute: func(ctx context.Context, log *logger.Logger) (*domain.Transaction, error) {
			return o.pay(ctx, log, domain.TransactionTypePurchase, req.RequestMeta, &req.PaymentIntent)
		},
	})
}

// Authorize places a hold for later capture or void
func (o *TransactionOrchestrator) Authorize(ctx context.Context, req *domain.AuthorizeRequest) (*domain.PaymentOutcome, error) {
	if req == nil {
		return o.reject(domain.TransactionTypeAuthorize, domain.ErrValidation)
	}
	return o.run(ctx, &opRun{
		txnType:     domain.TransactionTypeAuthorize,
		meta:        req.RequestMeta,
		fingerprint: req.Fingerprint(),
		execute: func(ctx context.Context, log *logger.Logger) (*domain.Transaction, error) {
			return o.pay(ctx, log, domain.TransactionTypeAuthorize, req.RequestMeta, &req.PaymentIntent)
		},
	})
}

// Capture captures an AUTHORIZED transaction, fully when no amount is given
func (o *TransactionOrchestrator) Capture(ctx context.Context, req *domain.CaptureRequest) (*domain.PaymentOutcome, error) {
	if req == nil {
		return o.reject(domain.TransactionTypeCapture, domain.ErrMissingReference)
	}
	return o.run(ctx, &opRun{
		txnType:     domain.TransactionTypeCapture,
		meta:        req.RequestMeta,
		fingerprint: req.Fingerprint(),
		execute: func(ctx context.Context, log *logger.Logger) (*domain.Transaction, error) {
			if err := domain.ValidateReference(req.TransactionID, req.Amount); err != nil {
				return nil, domain.NewValidationError(err)
			}
			return o.followOn(ctx, log, &followOn{
				txnType:     domain.TransactionTypeCapture,
				meta:        req.RequestMeta,
				referenceID: req.TransactionID,
				prepare: func(original *domain.Transaction) (*domain.Transaction, error) {
					if !original.CanBeCaptured() {
						return nil, stateError(original, "captured")
					}
					amount := original.Amount.Decimal
					if req.Amount.Valid {
						amount = req.Amount.Decimal
					}
					if amount.GreaterThan(original.Amount.Decimal) {
						return nil, domain.NewValidationError(fmt.Errorf("%w: capture %s exceeds authorized %s",
							domain.ErrInvalidAmount, amount, original.Amount.Decimal))
					}
					if err := domain.ValidateAmount(amount, original.Currency); err != nil {
						return nil, domain.NewValidationError(err)
					}
					return domain.NewTransaction(domain.TransactionTypeCapture, decimal.NewNullDecimal(amount), original.Currency), nil
				},
				dispatch: func(ctx context.Context, original, txn *domain.Transaction, _ *domain.PaymentMethod) (*gateway.Outcome, error) {
					return o.gateway.Capture(ctx, &gateway.CaptureRequest{
						TransactionID:      txn.ID,
						IdempotencyKey:     txn.ID,
						CorrelationID:      txn.CorrelationID,
						ReferenceGatewayID: original.GatewayTransactionID,
						Amount:             txn.Amount,
						Currency:           txn.Currency,
					})
				},
			})
		},
	})
}

// Void cancels an AUTHORIZED transaction
func (o *TransactionOrchestrator) Void(ctx context.Context, req *domain.VoidRequest) (*domain.PaymentOutcome, error) {
	if req == nil {
		return o.reject(domain.TransactionTypeVoid, domain.ErrMissingReference)
	}
	return o.run(ctx, &opRun{
		txnType:     domain.TransactionTypeVoid,
		meta:        req.RequestMeta,
		fingerprint: req.Fingerprint(),
		execute: func(ctx context.Context, log *logger.Logger) (*domain.Transaction, error) {
			if err := domain.ValidateReference(req.TransactionID, decimal.NullDecimal{}); err != nil {
				return nil, domain.NewValidationError(err)
			}
			return o.followOn(ctx, log, &followOn{
				txnType:     domain.TransactionTypeVoid,
				meta:        req.RequestMeta,
				referenceID: req.TransactionID,
				prepare: func(original *domain.Transaction) (*domain.Transaction, error) {
					if !original.CanBeVoided() {
						return nil, stateError(original, "voided")
					}
					return domain.NewTransaction(domain.TransactionTypeVoid, decimal.NullDecimal{}, original.Currency), nil
				},
				dispatch: func(ctx context.Context, original, txn *domain.Transaction, _ *domain.PaymentMethod) (*gateway.Outcome, error) {
					return o.gateway.Void(ctx, &gateway.VoidRequest{
						TransactionID:      txn.ID,
						IdempotencyKey:     txn.ID,
						CorrelationID:      txn.CorrelationID,
						ReferenceGatewayID: original.GatewayTransactionID,
					})
				},
			})
		},
	})
}

// Refund returns captured funds, the whole remaining balance when no amount is given
func (o *TransactionOrchestrator) Refund(ctx context.Context, req *domain.RefundRequest) (*domain.PaymentOutcome, error) {
	if req == nil {
		return o.reject(domain.TransactionTypeRefund, domain.ErrMissingReference)
	}
	return o.run(ctx, &opRun{
		txnType:     domain.TransactionTypeRefund,
		meta:        req.RequestMeta,
		fingerprint: req.Fingerprint(),
		execute: func(ctx context.Context, log *logger.Logger) (*domain.Transaction, error) {
			if err := domain.ValidateReference(req.TransactionID, req.Amount); err != nil {
				return nil, domain.NewValidationError(err)
			}
			return o.followOn(ctx, log, &followOn{
				txnType:     domain.TransactionTypeRefund,
				meta:        req.RequestMeta,
				referenceID: req.TransactionID,
				prepare: func(original *domain.Transaction) (*domain.Transaction, error) {
					if !original.CanBeRefunded() {
						return nil, stateError(original, "refunded")
					}
					refundable := original.RefundableAmount()
					amount := refundable
					if req.Amount.Valid {
						amount = req.Amount.Decimal
					}
					if amount.GreaterThan(refundable) {
						return nil, domain.NewValidationError(fmt.Errorf("%w: refund %s exceeds refundable %s",
							domain.ErrInvalidAmount, amount, refundable))
					}
					if err := domain.ValidateAmount(amount, original.Currency); err != nil {
						return nil, domain.NewValidationError(err)
					}
					return domain.NewTransaction(domain.TransactionTypeRefund, decimal.NewNullDecimal(amount), original.Currency), nil
				},
				dispatch: func(ctx context.Context, original, txn *domain.Transaction, pm *domain.PaymentMethod) (*gateway.Outcome, error) {
					return o.gateway.Refund(ctx, &gateway.RefundRequest{
						TransactionID:      txn.ID,
						IdempotencyKey:     txn.ID,
						CorrelationID:      txn.CorrelationID,
						ReferenceGatewayID: original.GatewayTransactionID,
						Amount:             txn.Amount,
						Currency:           txn.Currency,
						PaymentMethod:      pm,
						Reason:             req.Reason,
					})
				},
			})
		},
	})
}

// GetTransaction returns a transaction by id
func (o *TransactionOrchestrator) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if !domain.IsValidID(id) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, id)
	}
	txn, err := o.txns.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, err
		}
		return nil, domain.NewSystemError("failed to load transaction", err)
	}
	return txn, nil
}

// ListTransactions lists a customer's transactions, newest first
func (o *TransactionOrchestrator) ListTransactions(ctx context.Context, customerID string, limit, offset int) ([]*domain.Transaction, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, domain.NewValidationError(fmt.Errorf("%w: customer id is required", domain.ErrValidation))
	}
	if !domain.IsValidID(customerID) {
		return nil, domain.NewValidationError(fmt.Errorf("%w: malformed customer id %q", domain.ErrValidation, customerID))
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	txns, err := o.txns.ListByCustomer(ctx, customerID, limit, offset)
	if err != nil {
		return nil, domain.NewSystemError("failed to list transactions", err)
	}
	return txns, nil
}

// run deduplicates by idempotency key, executes, and maps the result to an outcome
func (o *TransactionOrchestrator) run(ctx context.Context, r *opRun) (*domain.PaymentOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.orchestrator."+strings.ToLower(string(r.txnType)))
	defer span.End()
	span.SetAttributes(
		attribute.String("type", string(r.txnType)),
		attribute.String("correlation_id", r.meta.CorrelationID),
		attribute.Bool("idempotent", r.meta.IdempotencyKey != ""),
	)

	r.span = span
	r.start = time.Now()
	r.log = o.log.WithCorrelationID(r.meta.CorrelationID).With(zap.String("type", string(r.txnType)))
	o.metrics.started(ctx, r.txnType)

	key := r.meta.IdempotencyKey
	if key == "" {
		txn, err := r.execute(ctx, r.log)
		return o.finish(ctx, r, txn, err)
	}
	r.log = r.log.With(zap.String("idempotency_key", key))

	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		res, err := o.idem.ReserveOrGet(ctx, key, r.fingerprint)
		if err != nil {
			return o.finish(ctx, r, nil, domain.NewSystemError("failed to reserve idempotency key", err))
		}
		if res.IsNew {
			return o.executeReserved(ctx, r, res.Token)
		}

		out, err := o.replay(ctx, r, res.Existing)
		if errors.Is(err, errReservationReleased) {
			continue
		}
		return out, err
	}
	return o.finish(ctx, r, nil, domain.NewSystemError("idempotency key is contended, retry", nil))
}

// executeReserved runs the operation while holding the reservation for its key
func (o *TransactionOrchestrator) executeReserved(ctx context.Context, r *opRun, token string) (*domain.PaymentOutcome, error) {
	key := r.meta.IdempotencyKey

	// A row already carrying this key was left by an attempt whose reservation expired
	existing, err := o.txns.GetByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		r.log.Warn("Found transaction from an interrupted attempt", zap.String("transaction_id", existing.ID))
		existing = o.resolvePending(ctx, r.log, existing)
		o.completeKey(ctx, r.log, key, token, existing)
		return o.replayOutcome(ctx, r, existing)
	case !errors.Is(err, domain.ErrTransactionNotFound):
		o.releaseKey(ctx, r.log, key, token)
		return o.finish(ctx, r, nil, domain.NewSystemError("failed to check idempotency key", err))
	}

	txn, err := r.execute(ctx, r.log)
	if txn == nil {
		o.releaseKey(ctx, r.log, key, token)
	} else {
		o.completeKey(ctx, r.log, key, token, txn)
	}
	return o.finish(ctx, r, txn, err)
}

// replay answers a duplicate request from the stored result
func (o *TransactionOrchestrator) replay(ctx context.Context, r *opRun, rec *repository.IdempotencyRecord) (*domain.PaymentOutcome, error) {
	if rec.Fingerprint != r.fingerprint {
		return o.finish(ctx, r, nil, domain.NewValidationError(domain.ErrIdempotencyKeyMismatch))
	}

	if rec.Status != repository.IdempotencyCompleted {
		var err error
		if rec, err = o.awaitCompletion(ctx, r.meta.IdempotencyKey); err != nil {
			if errors.Is(err, repository.ErrIdempotencyKeyNotFound) {
				return nil, errReservationReleased
			}
			return o.finish(ctx, r, nil, err)
		}
		if rec.Fingerprint != r.fingerprint {
			return o.finish(ctx, r, nil, domain.NewValidationError(domain.ErrIdempotencyKeyMismatch))
		}
	}

	txn := rec.Result
	if txn == nil {
		var err error
		if txn, err = o.txns.GetByID(ctx, rec.TransactionID); err != nil {
			return o.finish(ctx, r, nil, domain.NewSystemError("failed to load stored result", err))
		}
	}

	if txn.Status == domain.TransactionStatusPending {
		resolved := o.resolvePending(ctx, r.log, txn)
		if resolved.Status != txn.Status || resolved.ReconciliationRequired != txn.ReconciliationRequired {
			o.completeKey(ctx, r.log, r.meta.IdempotencyKey, "", resolved)
		}
		txn = resolved
	}
	return o.replayOutcome(ctx, r, txn)
}

func (o *TransactionOrchestrator) replayOutcome(ctx context.Context, r *opRun, txn *domain.Transaction) (*domain.PaymentOutcome, error) {
	out := domain.OutcomeFromTransaction(txn)
	out.Replayed = true

	o.metrics.replayed(ctx, r.txnType)
	o.metrics.completed(ctx, r.txnType, txn.Status, time.Since(r.start))
	r.span.SetAttributes(attribute.Bool("replayed", true), attribute.String("status", string(txn.Status)))
	r.log.Info("Returned stored result",
		zap.String("transaction_id", txn.ID),
		zap.String("status", string(txn.Status)),
	)
	return out, outcomeError(txn)
}

// awaitCompletion polls until the in-flight holder of key completes it
func (o *TransactionOrchestrator) awaitCompletion(ctx context.Context, key string) (*repository.IdempotencyRecord, error) {
	deadline := time.NewTimer(o.cfg.InFlightWait)
	defer deadline.Stop()
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, domain.NewSystemError("request canceled while waiting for the original", ctx.Err())
		case <-deadline.C:
			pe := domain.NewBusinessError("a request with this idempotency key is still in progress", nil)
			pe.Retryable = true
			return nil, pe
		case <-ticker.C:
			rec, err := o.idem.Get(ctx, key)
			if err != nil {
				if errors.Is(err, repository.ErrIdempotencyKeyNotFound) {
					return nil, err
				}
				return nil, domain.NewSystemError("failed to read idempotency key", err)
			}
			if rec.Status == repository.IdempotencyCompleted {
				return rec, nil
			}
		}
	}
}

// resolvePending brings a stored PENDING transaction up to date: it is flagged for
// reconciliation if nobody flagged it, then reconciled once
func (o *TransactionOrchestrator) resolvePending(ctx context.Context, log *logger.Logger, txn *domain.Transaction) *domain.Transaction {
	ctx = context.WithoutCancel(ctx)
	fresh, err := o.txns.GetByID(ctx, txn.ID)
	if err != nil {
		log.Warn("Failed to reload pending transaction", zap.String("transaction_id", txn.ID), zap.Error(err))
		return txn
	}
	if fresh.Status != domain.TransactionStatusPending {
		return fresh
	}
	if !fresh.ReconciliationRequired {
		if err := fresh.MarkOutcomeUnknown(unrecordedOutcome); err != nil {
			return fresh
		}
		if err := o.txns.Update(ctx, fresh); err != nil {
			log.Warn("Failed to flag pending transaction", zap.String("transaction_id", fresh.ID), zap.Error(err))
			return txn
		}
	}
	return o.reconcileInline(ctx, log, fresh)
}

func (o *TransactionOrchestrator) reconcileInline(ctx context.Context, log *logger.Logger, txn *domain.Transaction) *domain.Transaction {
	if o.reconciler == nil {
		return txn
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ReconcileTimeout)
	defer cancel()

	got, err := o.reconciler.Reconcile(ctx, txn.ID)
	if err != nil {
		log.Warn("Inline reconciliation failed, leaving transaction for the worker",
			zap.String("transaction_id", txn.ID), zap.Error(err))
		return txn
	}
	return got
}

// pay runs purchase and authorize
func (o *TransactionOrchestrator) pay(ctx context.Context, log *logger.Logger, txnType domain.TransactionType, meta domain.RequestMeta, intent *domain.PaymentIntent) (*domain.Transaction, error) {
	if err := intent.Normalize(time.Now()); err != nil {
		return nil, domain.NewValidationError(err)
	}

	customer, err := o.profiles.ResolveCustomer(ctx, meta.CorrelationID, intent.Customer)
	if err != nil {
		return nil, localError("failed to resolve customer", err)
	}
	pm, err := o.profiles.ResolvePaymentMethod(ctx, customer, intent.PaymentMethod)
	if err != nil {
		return nil, localError("failed to resolve payment method", err)
	}

	txn := domain.NewTransaction(txnType, decimal.NewNullDecimal(intent.Amount), intent.Currency)
	txn.IdempotencyKey = meta.IdempotencyKey
	txn.CorrelationID = meta.CorrelationID
	txn.CustomerID = customer.ID
	txn.PaymentMethodID = pm.ID
	if err := o.txns.Create(ctx, txn); err != nil {
		return nil, domain.NewSystemError("failed to create transaction", err)
	}
	log = log.With(zap.String("transaction_id", txn.ID))

	req := &gateway.PaymentRequest{
		TransactionID:  txn.ID,
		IdempotencyKey: txn.IdempotencyKey,
		CorrelationID:  txn.CorrelationID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		PaymentMethod:  intent.PaymentMethod,
		Customer:       customer,
		Description:    intent.Description,
		InvoiceNumber:  intent.InvoiceNumber,
	}

	// a caller hanging up must not cut the gateway call short
	gwCtx := context.WithoutCancel(ctx)
	var out *gateway.Outcome
	if txnType == domain.TransactionTypeAuthorize {
		out, err = o.gateway.Authorize(gwCtx, req)
	} else {
		out, err = o.gateway.Purchase(gwCtx, req)
	}
	return o.settle(ctx, log, txn, nil, out, err)
}

// followOn describes a capture, void or refund against a referenced transaction
type followOn struct {
	txnType     domain.TransactionType
	meta        domain.RequestMeta
	referenceID string
	// prepare checks the locked original and builds the new PENDING transaction
	prepare func(original *domain.Transaction) (*domain.Transaction, error)
	// dispatch issues the gateway call for the created transaction
	dispatch func(ctx context.Context, original, txn *domain.Transaction, pm *domain.PaymentMethod) (*gateway.Outcome, error)
}

func (o *TransactionOrchestrator) followOn(ctx context.Context, log *logger.Logger, f *followOn) (*domain.Transaction, error) {
	original, err := o.loadReference(ctx, f.referenceID, f.txnType)
	if err != nil {
		return nil, err
	}

	lock, err := o.locker.TryAcquire(ctx, lockKeyPrefix+original.ID, o.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, repository.ErrLockHeld) {
			pe := domain.NewBusinessError("another operation on this transaction is in progress", err)
			pe.Retryable = true
			return nil, pe
		}
		return nil, domain.NewSystemError("failed to lock transaction", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to release transaction lock", zap.String("transaction_id", original.ID), zap.Error(err))
		}
	}()

	// the state may have moved between the first read and the lock
	original, pm, err := o.txns.GetWithPaymentMethod(ctx, original.ID)
	if err != nil {
		return nil, domain.NewSystemError("failed to reload transaction", err)
	}
	if original.HasFollowOnHold() {
		pe := domain.NewBusinessError("a previous operation on this transaction is awaiting reconciliation", nil)
		pe.Retryable = true
		return nil, pe
	}

	txn, err := f.prepare(original)
	if err != nil {
		return nil, err
	}
	txn.IdempotencyKey = f.meta.IdempotencyKey
	txn.CorrelationID = f.meta.CorrelationID
	txn.ReferenceTransactionID = original.GatewayTransactionID
	txn.ParentTransactionID = original.ID
	txn.CustomerID = original.CustomerID
	txn.PaymentMethodID = original.PaymentMethodID
	if err := o.txns.Create(ctx, txn); err != nil {
		return nil, domain.NewSystemError("failed to create transaction", err)
	}
	log = log.With(zap.String("transaction_id", txn.ID), zap.String("parent_transaction_id", original.ID))

	out, err := f.dispatch(context.WithoutCancel(ctx), original, txn, pm)
	return o.settle(ctx, log, txn, original, out, err)
}

// loadReference finds the transaction a follow-on acts on. A refund naming a capture acts on its authorization.
func (o *TransactionOrchestrator) loadReference(ctx context.Context, id string, txnType domain.TransactionType) (*domain.Transaction, error) {
	txn, err := o.txns.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, domain.NewValidationError(fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, id))
		}
		return nil, domain.NewSystemError("failed to load transaction", err)
	}

	if txnType == domain.TransactionTypeRefund && txn.Type == domain.TransactionTypeCapture && txn.ParentTransactionID != "" {
		return o.loadReference(ctx, txn.ParentTransactionID, txnType)
	}
	if isFollowOn(txn.Type) {
		return nil, domain.NewBusinessError(
			fmt.Sprintf("a %s transaction cannot be referenced by a %s", txn.Type, txnType),
			domain.ErrInvalidTransition,
		)
	}
	return txn, nil
}

// settle applies the gateway result to txn and its parent and persists both
func (o *TransactionOrchestrator) settle(ctx context.Context, log *logger.Logger, txn, parent *domain.Transaction, out *gateway.Outcome, callErr error) (*domain.Transaction, error) {
	ctx = context.WithoutCancel(ctx)
	pending := txn.Clone()

	switch {
	case callErr != nil && !errors.Is(callErr, gateway.ErrMalformedResponse):
		// anything after dispatch may have moved money
		log.Warn("Gateway outcome unknown, reconciling", zap.Error(callErr))
		if err := txn.MarkOutcomeUnknown(unknownOutcomeMsg); err != nil {
			return pending, domain.NewSystemError("failed to record unknown outcome", err)
		}
		if parent != nil {
			parent.HoldForFollowOn()
		}
		if err := o.persist(ctx, txn, parent); err != nil {
			return o.persistFailed(ctx, log, pending, err)
		}
		return o.reconcileInline(ctx, log, txn), nil

	case callErr != nil || out == nil:
		log.Error("Malformed gateway response", zap.Error(callErr))
		if err := txn.Fail(domain.ErrorCodeSystem, malformedOutcomeMsg, true, nil); err != nil {
			return pending, domain.NewSystemError("failed to record gateway failure", err)
		}

	case out.Success:
		if err := txn.Approve(out.GatewayDetails); err != nil {
			log.Error("Gateway approval could not be applied", zap.Error(err))
			if err := txn.Fail(domain.ErrorCodeSystem, malformedOutcomeMsg, true, nil); err != nil {
				return pending, domain.NewSystemError("failed to record gateway failure", err)
			}
			break
		}
		if parent != nil {
			if err := applyFollowOn(parent, txn); err != nil {
				log.Error("Failed to apply follow-on to referenced transaction", zap.Error(err))
			}
		}
		log.Info("Gateway approved",
			zap.String("gateway_transaction_id", txn.GatewayTransactionID),
			zap.String("status", string(txn.Status)),
		)

	default:
		code, msg, retryable := o.translator.TranslateDecline(out.GatewayDetails)
		if err := txn.Fail(code, msg, retryable, &out.GatewayDetails); err != nil {
			return pending, domain.NewSystemError("failed to record decline", err)
		}
		log.Info("Gateway declined",
			zap.String("error_code", string(code)),
			zap.String("reason_code", out.ReasonCode),
		)
	}

	if err := o.persist(ctx, txn, parent); err != nil {
		return o.persistFailed(ctx, log, pending, err)
	}
	return txn, nil
}

func (o *TransactionOrchestrator) persist(ctx context.Context, txn, parent *domain.Transaction) error {
	if parent != nil {
		return o.txns.UpdateAll(ctx, txn, parent)
	}
	return o.txns.Update(ctx, txn)
}

// persistFailed flags a transaction whose gateway result could not be stored, so reconciliation recovers it
func (o *TransactionOrchestrator) persistFailed(ctx context.Context, log *logger.Logger, pending *domain.Transaction, cause error) (*domain.Transaction, error) {
	log.Error("Failed to persist gateway outcome, flagging for reconciliation", zap.Error(cause))

	stored, err := o.txns.GetByID(ctx, pending.ID)
	if err == nil && stored.Status == domain.TransactionStatusPending {
		if stored.ReconciliationRequired {
			return stored, nil
		}
		if stored.MarkOutcomeUnknown(unrecordedOutcome) == nil && o.txns.Update(ctx, stored) == nil {
			return stored, nil
		}
	}
	return pending, domain.NewSystemError("failed to record transaction outcome", cause)
}

// completeKey records txn for key. An empty token only refreshes a record already completed for txn.
func (o *TransactionOrchestrator) completeKey(ctx context.Context, log *logger.Logger, key, token string, txn *domain.Transaction) {
	if err := o.idem.Complete(context.WithoutCancel(ctx), key, token, txn); err != nil {
		log.Error("Failed to complete idempotency key", zap.String("transaction_id", txn.ID), zap.Error(err))
	}
}

func (o *TransactionOrchestrator) releaseKey(ctx context.Context, log *logger.Logger, key, token string) {
	if err := o.idem.Release(context.WithoutCancel(ctx), key, token); err != nil {
		log.Warn("Failed to release idempotency key", zap.Error(err))
	}
}

// finish maps the result to an outcome, records metrics and publishes the transaction event
func (o *TransactionOrchestrator) finish(ctx context.Context, r *opRun, txn *domain.Transaction, err error) (*domain.PaymentOutcome, error) {
	var out *domain.PaymentOutcome
	if txn != nil {
		out = domain.OutcomeFromTransaction(txn)
		if err == nil {
			err = outcomeError(txn)
		}
	} else {
		if _, ok := domain.AsPaymentError(err); !ok {
			err = domain.NewSystemError("internal error", err)
		}
		out = domain.OutcomeFromError(err)
		out.Type = r.txnType
	}

	log := r.log
	if txn != nil {
		log = log.With(zap.String("transaction_id", txn.ID), zap.String("status", string(txn.Status)))
		r.span.SetAttributes(attribute.String("transaction_id", txn.ID), attribute.String("status", string(txn.Status)))
	}
	if out.ErrorCode != "" {
		o.metrics.failed(ctx, r.txnType, out.ErrorCode)
		r.span.SetAttributes(attribute.String("error_code", string(out.ErrorCode)))
	}
	if err != nil {
		telemetry.SetSpanError(r.span, err)
		if out.ErrorCode == domain.ErrorCodeSystem {
			log.Error("Operation failed", zap.Error(err))
		} else {
			log.Warn("Operation rejected", zap.String("error_code", string(out.ErrorCode)), zap.Error(err))
		}
	}
	o.metrics.completed(ctx, r.txnType, out.Status, time.Since(r.start))

	if txn != nil {
		publish(ctx, o.events, log, txn)
	}
	return out, err
}

// reject answers a request that could not be read at all
func (o *TransactionOrchestrator) reject(txnType domain.TransactionType, err error) (*domain.PaymentOutcome, error) {
	pe := domain.NewValidationError(err)
	out := domain.OutcomeFromError(pe)
	out.Type = txnType
	return out, pe
}

// outcomeError is the error returned alongside a transaction whose result is a local system failure
func outcomeError(txn *domain.Transaction) error {
	out := domain.OutcomeFromTransaction(txn)
	if out.ErrorCode == domain.ErrorCodeSystem {
		return domain.NewSystemError(out.ErrorMessage, nil)
	}
	return nil
}

// localError keeps validation failures as validation errors and wraps everything else as a system error
func localError(message string, err error) error {
	if errors.Is(err, domain.ErrValidation) {
		return domain.NewValidationError(err)
	}
	return domain.NewSystemError(message, err)
}

func stateError(original *domain.Transaction, action string) error {
	return domain.NewBusinessError(
		fmt.Sprintf("%s transaction in status %s cannot be %s", original.Type, original.Status, action),
		domain.ErrInvalidTransition,
	)
}
