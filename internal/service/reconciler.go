package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/events"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/gateway"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/repository"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/translator"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/logger"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/retry"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/telemetry"
)

// Reconciliation results reported to metrics
const (
	ReconcileResolved   = "resolved"
	ReconcileUnresolved = "unresolved"
	ReconcileError      = "error"
)

// ReconcilerConfig contains configuration for the reconciler
type ReconcilerConfig struct {
	// MinAge is how long the gateway may take to show an operation before "not found" means it never happened
	MinAge time.Duration
	// LookupRetries is the number of lookup retries after the first attempt
	LookupRetries int
	// LookupInterval is the first backoff interval between lookups
	LookupInterval time.Duration
}

// DefaultReconcilerConfig returns default reconciler configuration
func DefaultReconcilerConfig() *ReconcilerConfig {
	return &ReconcilerConfig{
		MinAge:         5 * time.Minute,
		LookupRetries:  2,
		LookupInterval: 500 * time.Millisecond,
	}
}

// Reconciler resolves transactions whose gateway outcome is unknown
type Reconciler struct {
	txns       repository.TransactionRepository
	gateway    gateway.Client
	translator *translator.Translator
	events     events.Publisher
	metrics    *safeMetrics
	log        *logger.Logger
	cfg        ReconcilerConfig
}

// NewReconciler creates a new reconciler
func NewReconciler(
	txns repository.TransactionRepository,
	gw gateway.Client,
	tr *translator.Translator,
	pub events.Publisher,
	m Metrics,
	log *logger.Logger,
	cfg *ReconcilerConfig,
) *Reconciler {
	if log == nil {
		log = logger.NewNop()
	}
	if tr == nil {
		tr = translator.New()
	}
	if pub == nil {
		pub = events.NewNoopPublisher()
	}
	c := *DefaultReconcilerConfig()
	if cfg != nil {
		if cfg.MinAge > 0 {
			c.MinAge = cfg.MinAge
		}
		if cfg.LookupRetries >= 0 {
			c.LookupRetries = cfg.LookupRetries
		}
		if cfg.LookupInterval > 0 {
			c.LookupInterval = cfg.LookupInterval
		}
	}
	log = log.Named("reconciler")
	return &Reconciler{
		txns:       txns,
		gateway:    gw,
		translator: tr,
		events:     pub,
		metrics:    newSafeMetrics(m, log),
		log:        log,
		cfg:        c,
	}
}

// Reconcile looks up the gateway result of an unresolved transaction and applies it.
// The returned transaction is still unresolved when the gateway has no answer yet.
func (r *Reconciler) Reconcile(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reconciler.reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("transaction_id", transactionID))

	txn, err := r.txns.GetByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if !txn.IsUnresolved() {
		return txn, nil
	}

	log := r.log.WithCorrelationID(txn.CorrelationID).With(
		zap.String("transaction_id", txn.ID),
		zap.String("type", string(txn.Type)),
	)

	var parent *domain.Transaction
	if isFollowOn(txn.Type) && txn.ParentTransactionID != "" {
		if parent, err = r.txns.GetByID(ctx, txn.ParentTransactionID); err != nil {
			return txn, fmt.Errorf("failed to load referenced transaction: %w", err)
		}
	}

	result, err := r.lookup(ctx, txn)
	if err != nil {
		r.metrics.reconciled(ctx, ReconcileError)
		telemetry.SetSpanError(span, err)
		log.Warn("Gateway lookup failed", zap.Error(err))
		return txn, err
	}

	if err := r.apply(txn, parent, result); err != nil {
		if errors.Is(err, errStillUnknown) {
			r.metrics.reconciled(ctx, ReconcileUnresolved)
			log.Info("Gateway has no record yet, leaving transaction unresolved")
			return txn, nil
		}
		r.metrics.reconciled(ctx, ReconcileError)
		log.Error("Failed to apply reconciled outcome", zap.Error(err))
		return txn, err
	}

	toUpdate := []*domain.Transaction{txn}
	if parent != nil {
		toUpdate = append(toUpdate, parent)
	}
	if err := r.txns.UpdateAll(ctx, toUpdate...); err != nil {
		r.metrics.reconciled(ctx, ReconcileError)
		return txn, fmt.Errorf("failed to persist reconciled transaction: %w", err)
	}

	r.metrics.reconciled(ctx, ReconcileResolved)
	log.Info("Transaction reconciled",
		zap.String("status", string(txn.Status)),
		zap.String("gateway_transaction_id", txn.GatewayTransactionID),
	)
	publish(ctx, r.events, log, txn)
	return txn, nil
}

var errStillUnknown = errors.New("gateway outcome still unknown")

func (r *Reconciler) lookup(ctx context.Context, txn *domain.Transaction) (*gateway.LookupResult, error) {
	var result *gateway.LookupResult
	res := retry.Do(ctx, &retry.Config{
		MaxRetries:      r.cfg.LookupRetries,
		InitialInterval: r.cfg.LookupInterval,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}, func(ctx context.Context) error {
		var err error
		result, err = r.gateway.Lookup(ctx, &gateway.LookupRequest{
			TransactionID:      txn.ID,
			Type:               txn.Type,
			ReferenceGatewayID: txn.ReferenceTransactionID,
			CorrelationID:      txn.CorrelationID,
		})
		return err
	})
	if res.Err != nil {
		if res.LastError != nil {
			return nil, fmt.Errorf("lookup failed after %d attempts: %w", res.Attempts, res.LastError)
		}
		return nil, res.Err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: empty lookup result", gateway.ErrMalformedResponse)
	}
	return result, nil
}

// apply moves txn (and its parent for follow-ons) to the state the lookup reports
func (r *Reconciler) apply(txn, parent *domain.Transaction, result *gateway.LookupResult) error {
	if !result.Found || result.Outcome == nil {
		if time.Since(txn.CreatedAt) < r.cfg.MinAge {
			return errStillUnknown
		}
		if parent != nil {
			parent.ClearFollowOnHold()
		}
		return txn.Fail(domain.ErrorCodeNetwork, "gateway has no record of the operation", true, nil)
	}

	out := result.Outcome
	if !out.Success {
		code, msg, retryable := r.translator.TranslateDecline(out.GatewayDetails)
		if parent != nil {
			parent.ClearFollowOnHold()
		}
		return txn.Fail(code, msg, retryable, &out.GatewayDetails)
	}

	if err := txn.Approve(out.GatewayDetails); err != nil {
		return err
	}
	if parent != nil {
		return applyFollowOn(parent, txn)
	}
	return nil
}

// ReconcilePending reconciles unresolved transactions older than the minimum age.
// It returns how many were resolved.
func (r *Reconciler) ReconcilePending(ctx context.Context, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reconciler.reconcile_pending")
	defer span.End()

	pending, err := r.txns.ListUnresolved(ctx, time.Now().UTC().Add(-r.cfg.MinAge), limit)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return 0, fmt.Errorf("failed to list unresolved transactions: %w", err)
	}

	resolved := 0
	for _, txn := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		got, err := r.Reconcile(ctx, txn.ID)
		if err != nil {
			continue
		}
		if !got.IsUnresolved() {
			resolved++
		}
	}
	span.SetAttributes(attribute.Int("scanned", len(pending)), attribute.Int("resolved", resolved))
	return resolved, nil
}
