package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType is the gateway operation a transaction performs
type TransactionType string

const (
	TransactionTypePurchase  TransactionType = "PURCHASE"
	TransactionTypeAuthorize TransactionType = "AUTHORIZE"
	TransactionTypeCapture   TransactionType = "CAPTURE"
	TransactionTypeVoid      TransactionType = "VOID"
	TransactionTypeRefund    TransactionType = "REFUND"
)

// TransactionStatus is the lifecycle state of a transaction
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusAuthorized TransactionStatus = "AUTHORIZED"
	TransactionStatusCaptured   TransactionStatus = "CAPTURED"
	TransactionStatusVoided     TransactionStatus = "VOIDED"
	TransactionStatusRefunded   TransactionStatus = "REFUNDED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
)

// transitions lists every legal edge per transaction type.
// VOID and REFUND records close in the state named by their effect.
var transitions = map[TransactionType]map[TransactionStatus][]TransactionStatus{
	TransactionTypePurchase: {
		TransactionStatusPending:  {TransactionStatusCaptured, TransactionStatusFailed},
		TransactionStatusCaptured: {TransactionStatusRefunded},
	},
	TransactionTypeAuthorize: {
		TransactionStatusPending:    {TransactionStatusAuthorized, TransactionStatusFailed},
		TransactionStatusAuthorized: {TransactionStatusCaptured, TransactionStatusVoided},
		TransactionStatusCaptured:   {TransactionStatusRefunded},
	},
	TransactionTypeCapture: {
		TransactionStatusPending: {TransactionStatusCaptured, TransactionStatusFailed},
	},
	TransactionTypeVoid: {
		TransactionStatusPending: {TransactionStatusVoided, TransactionStatusFailed},
	},
	TransactionTypeRefund: {
		TransactionStatusPending: {TransactionStatusRefunded, TransactionStatusFailed},
	},
}

// CanTransition reports whether from -> to is a legal edge for the type
func CanTransition(t TransactionType, from, to TransactionStatus) bool {
	for _, s := range transitions[t][from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states with no outgoing edges
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusFailed || s == TransactionStatusVoided || s == TransactionStatusRefunded
}

// GatewayDetails holds the identifiers and codes a gateway returns
type GatewayDetails struct {
	TransactionID string `json:"gateway_transaction_id,omitempty"`
	AuthCode      string `json:"auth_code,omitempty"`
	AVSResult     string `json:"avs_result,omitempty"`
	CVVResult     string `json:"cvv_result,omitempty"`
	ResponseCode  string `json:"response_code,omitempty"`
	ReasonCode    string `json:"reason_code,omitempty"`
	ReasonText    string `json:"reason_text,omitempty"`
}

// Transaction represents one gateway-facing operation
type Transaction struct {
	ID                     string              `json:"id"`
	IdempotencyKey         string              `json:"idempotency_key,omitempty"`
	CorrelationID          string              `json:"correlation_id,omitempty"`
	Type                   TransactionType     `json:"type"`
	Status                 TransactionStatus   `json:"status"`
	Amount                 decimal.NullDecimal `json:"amount"`
	Currency               string              `json:"currency"`
	GatewayTransactionID   string              `json:"gateway_transaction_id,omitempty"`
	ReferenceTransactionID string              `json:"reference_transaction_id,omitempty"`
	ParentTransactionID    string              `json:"parent_transaction_id,omitempty"`
	AuthCode               string              `json:"auth_code,omitempty"`
	AVSResult              string              `json:"avs_result,omitempty"`
	CVVResult              string              `json:"cvv_result,omitempty"`
	GatewayResponseCode    string              `json:"gateway_response_code,omitempty"`
	ReasonCode             string              `json:"reason_code,omitempty"`
	ReasonText             string              `json:"reason_text,omitempty"`
	ErrorCode              ErrorCode           `json:"error_code,omitempty"`
	ErrorMessage           string              `json:"error_message,omitempty"`
	Retryable              bool                `json:"retryable"`
	CustomerID             string              `json:"customer_id,omitempty"`
	PaymentMethodID        string              `json:"payment_method_id,omitempty"`
	CapturedAmount         decimal.Decimal     `json:"captured_amount"`
	RefundedAmount         decimal.Decimal     `json:"refunded_amount"`
	ReconciliationRequired bool                `json:"reconciliation_required"`
	Version                int                 `json:"version"`
	CreatedAt              time.Time           `json:"created_at"`
	UpdatedAt              time.Time           `json:"updated_at"`
}

// NewTransaction creates a PENDING transaction
func NewTransaction(txnType TransactionType, amount decimal.NullDecimal, currency string) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:             uuid.New().String(),
		Type:           txnType,
		Status:         TransactionStatusPending,
		Amount:         amount,
		Currency:       currency,
		CapturedAmount: decimal.Zero,
		RefundedAmount: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy
func (t *Transaction) Clone() *Transaction {
	c := *t
	return &c
}

func (t *Transaction) transition(to TransactionStatus) error {
	if !CanTransition(t.Type, t.Status, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, t.Type, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// setGatewayTransactionID records the gateway id; it is never overwritten
func (t *Transaction) setGatewayTransactionID(id string) error {
	if id == "" || id == t.GatewayTransactionID {
		return nil
	}
	if t.GatewayTransactionID != "" {
		return fmt.Errorf("%w: have %s, got %s", ErrGatewayIDAlreadySet, t.GatewayTransactionID, id)
	}
	t.GatewayTransactionID = id
	return nil
}

func (t *Transaction) recordDetails(d GatewayDetails) error {
	if err := t.setGatewayTransactionID(d.TransactionID); err != nil {
		return err
	}
	t.AuthCode = d.AuthCode
	t.AVSResult = d.AVSResult
	t.CVVResult = d.CVVResult
	t.GatewayResponseCode = d.ResponseCode
	t.ReasonCode = d.ReasonCode
	t.ReasonText = d.ReasonText
	return nil
}

// SuccessStatus is the state a successful gateway call moves this transaction to
func (t *Transaction) SuccessStatus() TransactionStatus {
	switch t.Type {
	case TransactionTypeAuthorize:
		return TransactionStatusAuthorized
	case TransactionTypeVoid:
		return TransactionStatusVoided
	case TransactionTypeRefund:
		return TransactionStatusRefunded
	default:
		return TransactionStatusCaptured
	}
}

// Approve applies a successful gateway outcome. Success without a gateway id is rejected.
func (t *Transaction) Approve(d GatewayDetails) error {
	if d.TransactionID == "" && t.GatewayTransactionID == "" {
		return fmt.Errorf("%w: approval without gateway transaction id", ErrInvalidTransition)
	}
	to := t.SuccessStatus()
	if !CanTransition(t.Type, t.Status, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, t.Type, t.Status, to)
	}
	if err := t.recordDetails(d); err != nil {
		return err
	}
	if t.Type == TransactionTypePurchase {
		t.CapturedAmount = t.Amount.Decimal
	}
	t.ReconciliationRequired = false
	t.ErrorCode = ""
	t.ErrorMessage = ""
	t.Retryable = false
	return t.transition(to)
}

// Fail moves a PENDING transaction to FAILED and records why
func (t *Transaction) Fail(code ErrorCode, message string, retryable bool, d *GatewayDetails) error {
	if !CanTransition(t.Type, t.Status, TransactionStatusFailed) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, t.Type, t.Status, TransactionStatusFailed)
	}
	if d != nil {
		if err := t.recordDetails(*d); err != nil {
			return err
		}
	}
	t.ErrorCode = code
	t.ErrorMessage = message
	t.Retryable = retryable
	t.ReconciliationRequired = false
	return t.transition(TransactionStatusFailed)
}

// MarkOutcomeUnknown keeps the transaction PENDING and flags it for reconciliation
func (t *Transaction) MarkOutcomeUnknown(message string) error {
	if t.Status != TransactionStatusPending {
		return fmt.Errorf("%w: only pending transactions can have an unknown outcome", ErrInvalidTransition)
	}
	t.ReconciliationRequired = true
	t.ErrorCode = ErrorCodeUnknownOutcome
	t.ErrorMessage = message
	t.Retryable = false
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// IsUnresolved reports whether the gateway outcome is still unknown
func (t *Transaction) IsUnresolved() bool {
	return t.Status == TransactionStatusPending && t.ReconciliationRequired
}

// CanBeCaptured reports whether a capture may reference this transaction
func (t *Transaction) CanBeCaptured() bool {
	return t.Type == TransactionTypeAuthorize && t.Status == TransactionStatusAuthorized
}

// CanBeVoided reports whether a void may reference this transaction
func (t *Transaction) CanBeVoided() bool {
	return t.Type == TransactionTypeAuthorize && t.Status == TransactionStatusAuthorized
}

// CanBeRefunded reports whether a refund may reference this transaction
func (t *Transaction) CanBeRefunded() bool {
	return (t.Type == TransactionTypePurchase || t.Type == TransactionTypeAuthorize) &&
		t.Status == TransactionStatusCaptured &&
		t.RefundableAmount().IsPositive()
}

// RefundableAmount is the captured amount not yet refunded
func (t *Transaction) RefundableAmount() decimal.Decimal {
	return t.CapturedAmount.Sub(t.RefundedAmount)
}

// ApplyCapture moves an authorization to CAPTURED for the captured amount
func (t *Transaction) ApplyCapture(amount decimal.Decimal) error {
	if !t.CanBeCaptured() {
		return fmt.Errorf("%w: %s %s cannot be captured", ErrInvalidTransition, t.Type, t.Status)
	}
	if amount.GreaterThan(t.Amount.Decimal) {
		return fmt.Errorf("%w: capture %s exceeds authorized %s", ErrInvalidAmount, amount, t.Amount.Decimal)
	}
	t.CapturedAmount = amount
	return t.transition(TransactionStatusCaptured)
}

// ApplyVoid moves an authorization to VOIDED
func (t *Transaction) ApplyVoid() error {
	if !t.CanBeVoided() {
		return fmt.Errorf("%w: %s %s cannot be voided", ErrInvalidTransition, t.Type, t.Status)
	}
	return t.transition(TransactionStatusVoided)
}

// ApplyRefund adds a refund; the transaction becomes REFUNDED once nothing is left to refund
func (t *Transaction) ApplyRefund(amount decimal.Decimal) error {
	if !t.CanBeRefunded() {
		return fmt.Errorf("%w: %s %s cannot be refunded", ErrInvalidTransition, t.Type, t.Status)
	}
	if amount.GreaterThan(t.RefundableAmount()) {
		return fmt.Errorf("%w: refund %s exceeds refundable %s", ErrInvalidAmount, amount, t.RefundableAmount())
	}
	t.RefundedAmount = t.RefundedAmount.Add(amount)
	t.UpdatedAt = time.Now().UTC()
	if t.RefundableAmount().IsZero() {
		return t.transition(TransactionStatusRefunded)
	}
	return nil
}

// HoldForFollowOn flags a settled transaction whose capture, void or refund has an unknown outcome.
// No further follow-on may reference it until the hold is cleared.
func (t *Transaction) HoldForFollowOn() {
	if t.Status == TransactionStatusPending {
		return
	}
	t.ReconciliationRequired = true
	t.UpdatedAt = time.Now().UTC()
}

// HasFollowOnHold reports whether a follow-on operation is awaiting reconciliation
func (t *Transaction) HasFollowOnHold() bool {
	return t.Status != TransactionStatusPending && t.ReconciliationRequired
}

// ClearFollowOnHold removes the hold set by HoldForFollowOn
func (t *Transaction) ClearFollowOnHold() {
	if t.HasFollowOnHold() {
		t.ReconciliationRequired = false
		t.UpdatedAt = time.Now().UTC()
	}
}
