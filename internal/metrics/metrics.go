package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/telemetry"
)

var (
	// Transaction counters
	TransactionsStarted   *telemetry.Counter
	TransactionsCompleted *telemetry.Counter
	TransactionErrors     *telemetry.Counter
	IdempotentReplays     *telemetry.Counter

	// Reconciliation counters
	ReconciliationsTotal *telemetry.Counter

	// Histograms
	OperationDuration *telemetry.Histogram

	initOnce sync.Once
	initErr  error
)

// Init initializes all payment metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	TransactionsStarted, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_transactions_started_total",
		Description: "Total number of payment operations started",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	TransactionsCompleted, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_transactions_completed_total",
		Description: "Total number of payment operations completed, by resulting status",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	TransactionErrors, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_transaction_errors_total",
		Description: "Total number of payment operation failures, by error code",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	IdempotentReplays, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_idempotent_replays_total",
		Description: "Total number of requests answered from a stored idempotent result",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	ReconciliationsTotal, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_reconciliations_total",
		Description: "Total number of reconciliation attempts, by result",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	OperationDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "payment_operation_duration_seconds",
		Description: "Payment operation duration in seconds",
		Unit:        "s",
	}, []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60})
	if err != nil {
		return err
	}

	return nil
}

// Recorder reports orchestrator activity to the package counters.
// Counters that were never initialized are skipped, so a Recorder never fails a payment.
type Recorder struct{}

// NewRecorder creates a new recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) TransactionStarted(ctx context.Context, t domain.TransactionType) {
	if TransactionsStarted != nil {
		TransactionsStarted.Inc(ctx, attribute.String("type", string(t)))
	}
}

func (r *Recorder) TransactionCompleted(ctx context.Context, t domain.TransactionType, status domain.TransactionStatus, elapsed time.Duration) {
	if TransactionsCompleted != nil {
		TransactionsCompleted.Inc(ctx, attribute.String("type", string(t)), attribute.String("status", string(status)))
	}
	if OperationDuration != nil {
		OperationDuration.Record(ctx, elapsed.Seconds(), attribute.String("type", string(t)))
	}
}

func (r *Recorder) TransactionError(ctx context.Context, t domain.TransactionType, code domain.ErrorCode) {
	if TransactionErrors != nil {
		TransactionErrors.Inc(ctx, attribute.String("type", string(t)), attribute.String("code", string(code)))
	}
}

func (r *Recorder) IdempotentReplay(ctx context.Context, t domain.TransactionType) {
	if IdempotentReplays != nil {
		IdempotentReplays.Inc(ctx, attribute.String("type", string(t)))
	}
}

func (r *Recorder) Reconciled(ctx context.Context, result string) {
	if ReconciliationsTotal != nil {
		ReconciliationsTotal.Inc(ctx, attribute.String("result", result))
	}
}
