package domain

import "github.com/shopspring/decimal"

// PaymentOutcome is the structured result returned for every operation
type PaymentOutcome struct {
	TransactionID          string              `json:"transaction_id,omitempty"`
	GatewayTransactionID   string              `json:"gateway_transaction_id,omitempty"`
	Type                   TransactionType     `json:"type,omitempty"`
	Status                 TransactionStatus   `json:"status,omitempty"`
	Amount                 decimal.NullDecimal `json:"amount"`
	Currency               string              `json:"currency,omitempty"`
	Success                bool                `json:"success"`
	ErrorCode              ErrorCode           `json:"error_code,omitempty"`
	ErrorMessage           string              `json:"error_message,omitempty"`
	Retryable              bool                `json:"retryable"`
	ReconciliationRequired bool                `json:"reconciliation_required,omitempty"`
	Replayed               bool                `json:"-"`
}

// OutcomeFromTransaction maps a persisted transaction to an outcome
func OutcomeFromTransaction(t *Transaction) *PaymentOutcome {
	out := &PaymentOutcome{
		TransactionID:          t.ID,
		GatewayTransactionID:   t.GatewayTransactionID,
		Type:                   t.Type,
		Status:                 t.Status,
		Amount:                 t.Amount,
		Currency:               t.Currency,
		ReconciliationRequired: t.ReconciliationRequired,
	}

	switch {
	case t.Status == TransactionStatusFailed:
		out.ErrorCode = t.ErrorCode
		out.ErrorMessage = t.ErrorMessage
		out.Retryable = t.Retryable
	case t.IsUnresolved():
		out.ErrorCode = ErrorCodeUnknownOutcome
		out.ErrorMessage = t.ErrorMessage
	case t.Status == TransactionStatusPending:
		out.ErrorCode = ErrorCodeSystem
		out.ErrorMessage = t.ErrorMessage
		out.Retryable = true
	default:
		out.Success = true
	}
	return out
}

// OutcomeFromError maps a failure that happened before any transaction existed
func OutcomeFromError(err error) *PaymentOutcome {
	if pe, ok := AsPaymentError(err); ok {
		return &PaymentOutcome{
			ErrorCode:    pe.Code,
			ErrorMessage: pe.Message,
			Retryable:    pe.Retryable,
		}
	}
	return &PaymentOutcome{
		ErrorCode:    ErrorCodeSystem,
		ErrorMessage: "internal error",
		Retryable:    true,
	}
}
