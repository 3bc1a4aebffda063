package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
)

// AddressRequest is a billing address
type AddressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// CustomerRequest identifies the paying customer
type CustomerRequest struct {
	Email     string          `json:"email" binding:"required"`
	FirstName string          `json:"first_name"`
	LastName  string          `json:"last_name"`
	Phone     string          `json:"phone"`
	Company   string          `json:"company"`
	Address   *AddressRequest `json:"address,omitempty"`
}

// CardRequest is raw card data
type CardRequest struct {
	Number     string `json:"number" binding:"required"`
	ExpMonth   int    `json:"exp_month" binding:"required"`
	ExpYear    int    `json:"exp_year" binding:"required"`
	CVV        string `json:"cvv"`
	HolderName string `json:"holder_name"`
}

// BankAccountRequest is raw bank account data
type BankAccountRequest struct {
	AccountType   string `json:"account_type" binding:"required"`
	RoutingNumber string `json:"routing_number" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
	NameOnAccount string `json:"name_on_account"`
	BankName      string `json:"bank_name"`
}

// PaymentMethodRequest carries exactly one of card, bank account or token
type PaymentMethodRequest struct {
	Card        *CardRequest        `json:"card,omitempty"`
	BankAccount *BankAccountRequest `json:"bank_account,omitempty"`
	Token       string              `json:"token,omitempty"`
}

// PaymentRequest is the body of purchase and authorize
type PaymentRequest struct {
	Amount        decimal.Decimal      `json:"amount"`
	Currency      string               `json:"currency" binding:"required"`
	Customer      CustomerRequest      `json:"customer"`
	PaymentMethod PaymentMethodRequest `json:"payment_method"`
	Description   string               `json:"description"`
	InvoiceNumber string               `json:"invoice_number"`
}

// CaptureRequest is the body of capture. A missing amount captures the full authorization.
type CaptureRequest struct {
	Amount decimal.NullDecimal `json:"amount"`
}

// RefundRequest is the body of refund. A missing amount refunds the remaining balance.
type RefundRequest struct {
	Amount decimal.NullDecimal `json:"amount"`
	Reason string              `json:"reason"`
}

// ToPaymentMethod converts the request to the domain input type
func (r *PaymentMethodRequest) ToPaymentMethod() (domain.PaymentMethodInput, error) {
	set := 0
	var in domain.PaymentMethodInput
	if r.Card != nil {
		set++
		in = &domain.CreditCard{
			Number:     r.Card.Number,
			ExpMonth:   r.Card.ExpMonth,
			ExpYear:    r.Card.ExpYear,
			CVV:        r.Card.CVV,
			HolderName: r.Card.HolderName,
		}
	}
	if r.BankAccount != nil {
		set++
		in = &domain.BankAccount{
			AccountType:   domain.BankAccountType(r.BankAccount.AccountType),
			RoutingNumber: r.BankAccount.RoutingNumber,
			AccountNumber: r.BankAccount.AccountNumber,
			NameOnAccount: r.BankAccount.NameOnAccount,
			BankName:      r.BankAccount.BankName,
		}
	}
	if strings.TrimSpace(r.Token) != "" {
		set++
		in = &domain.Token{Value: strings.TrimSpace(r.Token)}
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: exactly one of card, bank_account or token is required", domain.ErrInvalidPaymentMethod)
	}
	return in, nil
}

// ToIntent converts the request to a domain payment intent
func (r *PaymentRequest) ToIntent() (domain.PaymentIntent, error) {
	pm, err := r.PaymentMethod.ToPaymentMethod()
	if err != nil {
		return domain.PaymentIntent{}, err
	}

	customer := domain.CustomerInfo{
		Email:     r.Customer.Email,
		FirstName: r.Customer.FirstName,
		LastName:  r.Customer.LastName,
		Phone:     r.Customer.Phone,
		Company:   r.Customer.Company,
	}
	if a := r.Customer.Address; a != nil {
		customer.Address = &domain.Address{
			Line1:      a.Line1,
			Line2:      a.Line2,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
			Country:    a.Country,
		}
	}

	return domain.PaymentIntent{
		Amount:        r.Amount,
		Currency:      r.Currency,
		Customer:      customer,
		PaymentMethod: pm,
		Description:   r.Description,
		InvoiceNumber: r.InvoiceNumber,
	}, nil
}

// TransactionResponse represents a stored transaction
type TransactionResponse struct {
	ID                     string                   `json:"id"`
	Type                   domain.TransactionType   `json:"type"`
	Status                 domain.TransactionStatus `json:"status"`
	Amount                 decimal.NullDecimal      `json:"amount"`
	Currency               string                   `json:"currency"`
	GatewayTransactionID   string                   `json:"gateway_transaction_id,omitempty"`
	ReferenceTransactionID string                   `json:"reference_transaction_id,omitempty"`
	ParentTransactionID    string                   `json:"parent_transaction_id,omitempty"`
	AuthCode               string                   `json:"auth_code,omitempty"`
	AVSResult              string                   `json:"avs_result,omitempty"`
	CVVResult              string                   `json:"cvv_result,omitempty"`
	ErrorCode              domain.ErrorCode         `json:"error_code,omitempty"`
	ErrorMessage           string                   `json:"error_message,omitempty"`
	Retryable              bool                     `json:"retryable"`
	CustomerID             string                   `json:"customer_id,omitempty"`
	PaymentMethodID        string                   `json:"payment_method_id,omitempty"`
	CapturedAmount         decimal.Decimal          `json:"captured_amount"`
	RefundedAmount         decimal.Decimal          `json:"refunded_amount"`
	ReconciliationRequired bool                     `json:"reconciliation_required"`
	CorrelationID          string                   `json:"correlation_id,omitempty"`
	CreatedAt              time.Time                `json:"created_at"`
	UpdatedAt              time.Time                `json:"updated_at"`
}

// FromTransaction converts a domain Transaction to TransactionResponse
func FromTransaction(t *domain.Transaction) *TransactionResponse {
	return &TransactionResponse{
		ID:                     t.ID,
		Type:                   t.Type,
		Status:                 t.Status,
		Amount:                 t.Amount,
		Currency:               t.Currency,
		GatewayTransactionID:   t.GatewayTransactionID,
		ReferenceTransactionID: t.ReferenceTransactionID,
		ParentTransactionID:    t.ParentTransactionID,
		AuthCode:               t.AuthCode,
		AVSResult:              t.AVSResult,
		CVVResult:              t.CVVResult,
		ErrorCode:              t.ErrorCode,
		ErrorMessage:           t.ErrorMessage,
		Retryable:              t.Retryable,
		CustomerID:             t.CustomerID,
		PaymentMethodID:        t.PaymentMethodID,
		CapturedAmount:         t.CapturedAmount,
		RefundedAmount:         t.RefundedAmount,
		ReconciliationRequired: t.ReconciliationRequired,
		CorrelationID:          t.CorrelationID,
		CreatedAt:              t.CreatedAt,
		UpdatedAt:              t.UpdatedAt,
	}
}

// TransactionListResponse represents a page of transactions
type TransactionListResponse struct {
	Transactions []*TransactionResponse `json:"transactions"`
	Total        int                    `json:"total"`
}

// FromTransactions converts a page of transactions
func FromTransactions(txns []*domain.Transaction) *TransactionListResponse {
	out := make([]*TransactionResponse, len(txns))
	for i, t := range txns {
		out[i] = FromTransaction(t)
	}
	return &TransactionListResponse{Transactions: out, Total: len(out)}
}
