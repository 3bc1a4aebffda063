package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/events"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/logger"
)

// Metrics receives orchestrator counters. Implementations must not block.
type Metrics interface {
	TransactionStarted(ctx context.Context, t domain.TransactionType)
	TransactionCompleted(ctx context.Context, t domain.TransactionType, status domain.TransactionStatus, elapsed time.Duration)
	TransactionError(ctx context.Context, t domain.TransactionType, code domain.ErrorCode)
	IdempotentReplay(ctx context.Context, t domain.TransactionType)
	Reconciled(ctx context.Context, result string)
}

type noopMetrics struct{}

func (noopMetrics) TransactionStarted(context.Context, domain.TransactionType) {}

func (noopMetrics) TransactionCompleted(context.Context, domain.TransactionType, domain.TransactionStatus, time.Duration) {}

func (noopMetrics) TransactionError(context.Context, domain.TransactionType, domain.ErrorCode) {}

func (noopMetrics) IdempotentReplay(context.Context, domain.TransactionType) {}

func (noopMetrics) Reconciled(context.Context, string) {}

// safeMetrics shields payments from a misbehaving metrics collaborator
type safeMetrics struct {
	inner Metrics
	log   *logger.Logger
}

func newSafeMetrics(m Metrics, log *logger.Logger) *safeMetrics {
	if m == nil {
		m = noopMetrics{}
	}
	return &safeMetrics{inner: m, log: log}
}

func (s *safeMetrics) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("Metrics collaborator panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func (s *safeMetrics) started(ctx context.Context, t domain.TransactionType) {
	s.guard(func() { s.inner.TransactionStarted(ctx, t) })
}

func (s *safeMetrics) completed(ctx context.Context, t domain.TransactionType, status domain.TransactionStatus, elapsed time.Duration) {
	s.guard(func() { s.inner.TransactionCompleted(ctx, t, status, elapsed) })
}

func (s *safeMetrics) failed(ctx context.Context, t domain.TransactionType, code domain.ErrorCode) {
	s.guard(func() { s.inner.TransactionError(ctx, t, code) })
}

func (s *safeMetrics) replayed(ctx context.Context, t domain.TransactionType) {
	s.guard(func() { s.inner.IdempotentReplay(ctx, t) })
}

func (s *safeMetrics) reconciled(ctx context.Context, result string) {
	s.guard(func() { s.inner.Reconciled(ctx, result) })
}

// publish sends the transaction event; failures are logged only
func publish(ctx context.Context, pub events.Publisher, log *logger.Logger, txn *domain.Transaction) {
	if pub == nil {
		return
	}
	if err := pub.PublishTransaction(context.WithoutCancel(ctx), txn); err != nil {
		log.Warn("Failed to publish transaction event",
			zap.String("transaction_id", txn.ID),
			zap.String("status", string(txn.Status)),
			zap.Error(err),
		)
	}
}

// applyFollowOn applies a successful capture, void or refund to the transaction it references
func applyFollowOn(parent, child *domain.Transaction) error {
	parent.ClearFollowOnHold()
	switch child.Type {
	case domain.TransactionTypeCapture:
		return parent.ApplyCapture(child.Amount.Decimal)
	case domain.TransactionTypeVoid:
		return parent.ApplyVoid()
	case domain.TransactionTypeRefund:
		return parent.ApplyRefund(child.Amount.Decimal)
	}
	return nil
}

func isFollowOn(t domain.TransactionType) bool {
	return t == domain.TransactionTypeCapture || t == domain.TransactionTypeVoid || t == domain.TransactionTypeRefund
}
