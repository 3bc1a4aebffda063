package domain

import (
	"errors"
	"fmt"
)

// Repository and state errors
var (
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrCustomerNotFound       = errors.New("customer not found")
	ErrCustomerAlreadyExists  = errors.New("customer already exists")
	ErrPaymentMethodNotFound  = errors.New("payment method not found")
	ErrInvalidTransition      = errors.New("invalid transaction state transition")
	ErrGatewayIDAlreadySet    = errors.New("gateway transaction id already set")
	ErrConcurrentModification = errors.New("transaction was modified concurrently")
)

// Validation errors
var (
	ErrValidation             = errors.New("validation failed")
	ErrInvalidAmount          = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidCurrency        = fmt.Errorf("%w: unsupported currency", ErrValidation)
	ErrInvalidEmail           = fmt.Errorf("%w: invalid email", ErrValidation)
	ErrInvalidPaymentMethod   = fmt.Errorf("%w: invalid payment method", ErrValidation)
	ErrMissingReference       = fmt.Errorf("%w: reference transaction id is required", ErrValidation)
	ErrIdempotencyKeyMismatch = fmt.Errorf("%w: idempotency key reused with a different request", ErrValidation)
)

// ErrorCode is the closed set of outcome error codes exposed to callers
type ErrorCode string

const (
	ErrorCodeValidation            ErrorCode = "VALIDATION_ERROR"
	ErrorCodeBusiness              ErrorCode = "BUSINESS_ERROR"
	ErrorCodeCardDeclined          ErrorCode = "CARD_DECLINED"
	ErrorCodeInsufficientFunds     ErrorCode = "INSUFFICIENT_FUNDS"
	ErrorCodeInvalidCard           ErrorCode = "INVALID_CARD"
	ErrorCodeInvalidAmount         ErrorCode = "INVALID_AMOUNT"
	ErrorCodeAVSMismatch           ErrorCode = "AVS_MISMATCH"
	ErrorCodeMerchantNotConfigured ErrorCode = "MERCHANT_NOT_CONFIGURED"
	ErrorCodeProcessing            ErrorCode = "PROCESSING_ERROR"
	ErrorCodeNetwork               ErrorCode = "NETWORK_ERROR"
	ErrorCodeSystem                ErrorCode = "SYSTEM_ERROR"
	ErrorCodeUnknownOutcome        ErrorCode = "UNKNOWN_OUTCOME"
)

// IsGatewayDecline reports whether the code is one of the gateway decline categories
func (c ErrorCode) IsGatewayDecline() bool {
	switch c {
	case ErrorCodeCardDeclined, ErrorCodeInsufficientFunds, ErrorCodeInvalidCard,
		ErrorCodeInvalidAmount, ErrorCodeAVSMismatch, ErrorCodeMerchantNotConfigured:
		return true
	}
	return false
}

// PaymentError is a failure surfaced to callers with a stable code
type PaymentError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Err       error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewValidationError rejects caller input; never retryable
func NewValidationError(err error) *PaymentError {
	return &PaymentError{Code: ErrorCodeValidation, Message: err.Error(), Err: err}
}

// NewBusinessError rejects an operation whose state precondition does not hold
func NewBusinessError(message string, err error) *PaymentError {
	return &PaymentError{Code: ErrorCodeBusiness, Message: message, Err: err}
}

// NewSystemError reports a local infrastructure failure; safe to retry with the same key
func NewSystemError(message string, err error) *PaymentError {
	return &PaymentError{Code: ErrorCodeSystem, Message: message, Retryable: true, Err: err}
}

// AsPaymentError extracts a PaymentError from err
func AsPaymentError(err error) (*PaymentError, bool) {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
