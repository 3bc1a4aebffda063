package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RequestMeta carries caller-supplied request identity
type RequestMeta struct {
	IdempotencyKey string
	CorrelationID  string
}

// PaymentIntent is the money movement shared by purchase and authorize
type PaymentIntent struct {
	Amount        decimal.Decimal
	Currency      string
	Customer      CustomerInfo
	PaymentMethod PaymentMethodInput
	Description   string
	InvoiceNumber string
}

// Normalize validates the intent and canonicalizes its currency
func (p *PaymentIntent) Normalize(now time.Time) error {
	currency, err := NormalizeCurrency(p.Currency)
	if err != nil {
		return err
	}
	p.Currency = currency
	if err := ValidateAmount(p.Amount, p.Currency); err != nil {
		return err
	}
	if err := ValidateEmail(p.Customer.Email); err != nil {
		return err
	}
	if p.PaymentMethod == nil {
		return fmt.Errorf("%w: payment method is required", ErrInvalidPaymentMethod)
	}
	return p.PaymentMethod.Validate(now)
}

// fingerprint identifies the intent without raw card or account numbers
func (p *PaymentIntent) fingerprint() string {
	pm := "none"
	if p.PaymentMethod != nil {
		pm = MatchPaymentMethod(p.PaymentMethod,
			func(c *CreditCard) string {
				n := c.NormalizedNumber()
				return fmt.Sprintf("card:%s:%s:%d/%d", DetectCardBrand(n), lastN(n, 4), c.ExpMonth, c.FullExpYear())
			},
			func(b *BankAccount) string {
				return fmt.Sprintf("bank:%s:%s:%s", b.AccountType, b.RoutingNumber, lastN(b.AccountNumber, 4))
			},
			func(t *Token) string { return "token:" + t.Value },
		)
	}
	return strings.Join([]string{
		p.Amount.String(),
		strings.ToUpper(p.Currency),
		NormalizeEmail(p.Customer.Email),
		pm,
		p.InvoiceNumber,
	}, "|")
}

// PurchaseRequest authorizes and captures in one step
type PurchaseRequest struct {
	RequestMeta
	PaymentIntent
}

// AuthorizeRequest places a hold without capturing
type AuthorizeRequest struct {
	RequestMeta
	PaymentIntent
}

// CaptureRequest captures a prior authorization. A missing amount captures the full authorization.
type CaptureRequest struct {
	RequestMeta
	TransactionID string
	Amount        decimal.NullDecimal
}

// VoidRequest cancels a prior authorization
type VoidRequest struct {
	RequestMeta
	TransactionID string
}

// RefundRequest returns captured funds. A missing amount refunds the remaining balance.
type RefundRequest struct {
	RequestMeta
	TransactionID string
	Amount        decimal.NullDecimal
	Reason        string
}

// Fingerprint hashes the canonical request for idempotency key reuse checks
func Fingerprint(txnType TransactionType, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(txnType))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (r *PurchaseRequest) Fingerprint() string {
	return Fingerprint(TransactionTypePurchase, r.fingerprint())
}

func (r *AuthorizeRequest) Fingerprint() string {
	return Fingerprint(TransactionTypeAuthorize, r.fingerprint())
}

func (r *CaptureRequest) Fingerprint() string {
	return Fingerprint(TransactionTypeCapture, r.TransactionID, nullDecimalString(r.Amount))
}

func (r *VoidRequest) Fingerprint() string {
	return Fingerprint(TransactionTypeVoid, r.TransactionID)
}

func (r *RefundRequest) Fingerprint() string {
	return Fingerprint(TransactionTypeRefund, r.TransactionID, nullDecimalString(r.Amount))
}

// ValidateReference checks the fields shared by follow-on operations
func ValidateReference(transactionID string, amount decimal.NullDecimal) error {
	if strings.TrimSpace(transactionID) == "" {
		return ErrMissingReference
	}
	if !IsValidID(transactionID) {
		return fmt.Errorf("%w: %w: %s", ErrValidation, ErrTransactionNotFound, transactionID)
	}
	if amount.Valid && !amount.Decimal.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	return nil
}

// IsValidID reports whether id has the canonical hyphenated UUID form records are keyed by
func IsValidID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func nullDecimalString(d decimal.NullDecimal) string {
	if !d.Valid {
		return "full"
	}
	return d.Decimal.String()
}
