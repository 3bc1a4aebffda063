package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
)

var (
	// ErrUnknownOutcome means the call may have reached the gateway but no response was received
	ErrUnknownOutcome = errors.New("gateway outcome unknown")
	// ErrMalformedResponse means the gateway answered with something that could not be interpreted
	ErrMalformedResponse = errors.New("malformed gateway response")
	// ErrProfileCreationFailed means the gateway rejected a customer profile
	ErrProfileCreationFailed = errors.New("gateway profile creation failed")
)

// Client defines the interface for payment gateway operations.
// Declines are returned as an Outcome with Success=false and a nil error.
type Client interface {
	// Name returns the gateway name
	Name() string

	Purchase(ctx context.Context, req *PaymentRequest) (*Outcome, error)
	Authorize(ctx context.Context, req *PaymentRequest) (*Outcome, error)
	Capture(ctx context.Context, req *CaptureRequest) (*Outcome, error)
	Void(ctx context.Context, req *VoidRequest) (*Outcome, error)
	Refund(ctx context.Context, req *RefundRequest) (*Outcome, error)

	// Lookup queries the gateway for the result of a previously dispatched operation
	Lookup(ctx context.Context, req *LookupRequest) (*LookupResult, error)

	// CreateCustomerProfile creates a gateway-side customer and returns its id
	CreateCustomerProfile(ctx context.Context, req *ProfileRequest) (string, error)
}

// PaymentRequest is a purchase or authorize call
type PaymentRequest struct {
	TransactionID  string
	IdempotencyKey string
	CorrelationID  string
	Amount         decimal.Decimal
	Currency       string
	PaymentMethod  domain.PaymentMethodInput
	Customer       *domain.Customer
	Description    string
	InvoiceNumber  string
}

// CaptureRequest captures a prior authorization. Amount is optional.
type CaptureRequest struct {
	TransactionID      string
	IdempotencyKey     string
	CorrelationID      string
	ReferenceGatewayID string
	Amount             decimal.NullDecimal
	Currency           string
}

// VoidRequest cancels a prior authorization
type VoidRequest struct {
	TransactionID      string
	IdempotencyKey     string
	CorrelationID      string
	ReferenceGatewayID string
}

// RefundRequest refunds a captured transaction. Amount is optional.
type RefundRequest struct {
	TransactionID      string
	IdempotencyKey     string
	CorrelationID      string
	ReferenceGatewayID string
	Amount             decimal.NullDecimal
	Currency           string
	PaymentMethod      *domain.PaymentMethod
	Reason             string
}

// LookupRequest identifies the operation to look up
type LookupRequest struct {
	TransactionID      string
	Type               domain.TransactionType
	ReferenceGatewayID string
	CorrelationID      string
}

// ProfileRequest creates a gateway-side customer profile
type ProfileRequest struct {
	CustomerID    string
	CorrelationID string
	Email         string
	Name          string
	Phone         string
}

// Outcome is the normalized gateway response
type Outcome struct {
	Success bool
	domain.GatewayDetails
}

// LookupResult reports whether the gateway has a record of the operation and its outcome
type LookupResult struct {
	Found   bool
	Outcome *Outcome
}

// Approved builds a successful outcome
func Approved(d domain.GatewayDetails) *Outcome {
	return &Outcome{Success: true, GatewayDetails: d}
}

// Declined builds a decline outcome
func Declined(reasonCode, reasonText string) *Outcome {
	return &Outcome{GatewayDetails: domain.GatewayDetails{ReasonCode: reasonCode, ReasonText: reasonText}}
}
