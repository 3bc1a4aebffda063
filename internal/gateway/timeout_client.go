package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/telemetry"
)

// DefaultCallTimeout bounds a single gateway call
const DefaultCallTimeout = 30 * time.Second

// TimeoutClient bounds every call to the wrapped client and reports calls
// that end without a gateway answer as ErrUnknownOutcome
type TimeoutClient struct {
	inner   Client
	timeout time.Duration
}

// NewTimeoutClient wraps inner with a per-call timeout
func NewTimeoutClient(inner Client, timeout time.Duration) *TimeoutClient {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &TimeoutClient{inner: inner, timeout: timeout}
}

// Unwrap returns the wrapped client
func (c *TimeoutClient) Unwrap() Client {
	return c.inner
}

func (c *TimeoutClient) Name() string {
	return c.inner.Name()
}

func (c *TimeoutClient) Purchase(ctx context.Context, req *PaymentRequest) (*Outcome, error) {
	return call(ctx, c, "purchase", req.TransactionID, func(ctx context.Context) (*Outcome, error) {
		return c.inner.Purchase(ctx, req)
	})
}

func (c *TimeoutClient) Authorize(ctx context.Context, req *PaymentRequest) (*Outcome, error) {
	return call(ctx, c, "authorize", req.TransactionID, func(ctx context.Context) (*Outcome, error) {
		return c.inner.Authorize(ctx, req)
	})
}

func (c *TimeoutClient) Capture(ctx context.Context, req *CaptureRequest) (*Outcome, error) {
	return call(ctx, c, "capture", req.TransactionID, func(ctx context.Context) (*Outcome, error) {
		return c.inner.Capture(ctx, req)
	})
}

func (c *TimeoutClient) Void(ctx context.Context, req *VoidRequest) (*Outcome, error) {
	return call(ctx, c, "void", req.TransactionID, func(ctx context.Context) (*Outcome, error) {
		return c.inner.Void(ctx, req)
	})
}

func (c *TimeoutClient) Refund(ctx context.Context, req *RefundRequest) (*Outcome, error) {
	return call(ctx, c, "refund", req.TransactionID, func(ctx context.Context) (*Outcome, error) {
		return c.inner.Refund(ctx, req)
	})
}

// Lookup is read-only, so timeouts are returned as plain errors
func (c *TimeoutClient) Lookup(ctx context.Context, req *LookupRequest) (*LookupResult, error) {
	ctx, span := c.startSpan(ctx, "lookup", req.TransactionID)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.inner.Lookup(ctx, req)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, fmt.Errorf("gateway lookup failed: %w", err)
	}
	span.SetAttributes(attribute.Bool("gateway.found", res.Found))
	return res, nil
}

func (c *TimeoutClient) CreateCustomerProfile(ctx context.Context, req *ProfileRequest) (string, error) {
	ctx, span := c.startSpan(ctx, "create_customer_profile", req.CustomerID)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	id, err := c.inner.CreateCustomerProfile(ctx, req)
	if err != nil {
		telemetry.SetSpanError(span, err)
		if !errors.Is(err, ErrProfileCreationFailed) {
			err = fmt.Errorf("%w: %v", ErrProfileCreationFailed, err)
		}
		return "", err
	}
	return id, nil
}

func (c *TimeoutClient) startSpan(ctx context.Context, op, id string) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, "gateway."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.name", c.inner.Name()),
			attribute.String("payment.transaction_id", id),
		),
	)
}

func call(ctx context.Context, c *TimeoutClient, op, id string, fn func(context.Context) (*Outcome, error)) (*Outcome, error) {
	ctx, span := c.startSpan(ctx, op, id)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := fn(ctx)
	if err != nil {
		err = classifyCallError(err)
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	if out == nil {
		err = fmt.Errorf("%w: empty outcome", ErrMalformedResponse)
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	if out.Success && out.TransactionID == "" {
		err = fmt.Errorf("%w: approval without transaction id", ErrMalformedResponse)
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("gateway.success", out.Success),
		attribute.String("gateway.reason_code", out.ReasonCode),
	)
	return out, nil
}

// classifyCallError maps deadline, cancellation and transport failures to ErrUnknownOutcome
func classifyCallError(err error) error {
	if errors.Is(err, ErrUnknownOutcome) || errors.Is(err, ErrMalformedResponse) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnknownOutcome, err)
	}
	return err
}
