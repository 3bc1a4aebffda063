package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentMethodType identifies the variant of a payment method
type PaymentMethodType string

const (
	PaymentMethodTypeCreditCard  PaymentMethodType = "CREDIT_CARD"
	PaymentMethodTypeBankAccount PaymentMethodType = "BANK_ACCOUNT"
	PaymentMethodTypeToken       PaymentMethodType = "TOKEN"
)

// BankAccountType is the kind of bank account debited
type BankAccountType string

const (
	BankAccountChecking         BankAccountType = "checking"
	BankAccountSavings          BankAccountType = "savings"
	BankAccountBusinessChecking BankAccountType = "businessChecking"
)

// PaymentMethodInput is raw payment method data submitted with a request.
// The set of implementations is closed: CreditCard, BankAccount and Token.
type PaymentMethodInput interface {
	Type() PaymentMethodType
	Validate(now time.Time) error
	sealed()
}

// CreditCard is raw card data. It is never persisted.
type CreditCard struct {
	Number     string
	ExpMonth   int
	ExpYear    int
	CVV        string
	HolderName string
}

// BankAccount is raw bank account data. It is never persisted.
type BankAccount struct {
	AccountType   BankAccountType
	RoutingNumber string
	AccountNumber string
	NameOnAccount string
	BankName      string
}

// Token references a stored payment method, either by our id or by gateway token
type Token struct {
	Value string
}

func (*CreditCard) Type() PaymentMethodType  { return PaymentMethodTypeCreditCard }
func (*BankAccount) Type() PaymentMethodType { return PaymentMethodTypeBankAccount }
func (*Token) Type() PaymentMethodType       { return PaymentMethodTypeToken }

func (*CreditCard) sealed()  {}
func (*BankAccount) sealed() {}
func (*Token) sealed()       {}

// MatchPaymentMethod dispatches on the payment method variant. Every variant needs a handler.
func MatchPaymentMethod[T any](
	in PaymentMethodInput,
	card func(*CreditCard) T,
	bank func(*BankAccount) T,
	token func(*Token) T,
) T {
	switch v := in.(type) {
	case *CreditCard:
		return card(v)
	case *BankAccount:
		return bank(v)
	case *Token:
		return token(v)
	}
	panic(fmt.Sprintf("unhandled payment method input %T", in))
}

// Validate checks card number, expiry and CVV
func (c *CreditCard) Validate(now time.Time) error {
	number := digitsOnly(c.Number)
	if len(number) < 12 || len(number) > 19 || !luhnValid(number) {
		return fmt.Errorf("%w: card number failed validation", ErrInvalidPaymentMethod)
	}
	if c.ExpMonth < 1 || c.ExpMonth > 12 {
		return fmt.Errorf("%w: expiration month must be 1-12", ErrInvalidPaymentMethod)
	}
	year := c.ExpYear
	if year < 100 {
		year += 2000
	}
	// Cards are valid through the last day of the expiry month
	expiry := time.Date(year, time.Month(c.ExpMonth)+1, 1, 0, 0, 0, 0, time.UTC)
	if !now.Before(expiry) {
		return fmt.Errorf("%w: card is expired", ErrInvalidPaymentMethod)
	}
	if c.CVV != "" {
		cvv := digitsOnly(c.CVV)
		if len(cvv) != len(c.CVV) || len(cvv) < 3 || len(cvv) > 4 {
			return fmt.Errorf("%w: cvv must be 3 or 4 digits", ErrInvalidPaymentMethod)
		}
	}
	return nil
}

// NormalizedNumber returns the card number without separators
func (c *CreditCard) NormalizedNumber() string {
	return digitsOnly(c.Number)
}

// FullExpYear returns a four digit expiry year
func (c *CreditCard) FullExpYear() int {
	if c.ExpYear < 100 {
		return c.ExpYear + 2000
	}
	return c.ExpYear
}

// Validate checks routing and account numbers
func (b *BankAccount) Validate(time.Time) error {
	switch b.AccountType {
	case BankAccountChecking, BankAccountSavings, BankAccountBusinessChecking:
	default:
		return fmt.Errorf("%w: unknown bank account type %q", ErrInvalidPaymentMethod, b.AccountType)
	}
	if !abaRoutingValid(b.RoutingNumber) {
		return fmt.Errorf("%w: routing number failed validation", ErrInvalidPaymentMethod)
	}
	account := digitsOnly(b.AccountNumber)
	if len(account) != len(b.AccountNumber) || len(account) < 4 || len(account) > 17 {
		return fmt.Errorf("%w: account number must be 4-17 digits", ErrInvalidPaymentMethod)
	}
	if strings.TrimSpace(b.NameOnAccount) == "" {
		return fmt.Errorf("%w: name on account is required", ErrInvalidPaymentMethod)
	}
	return nil
}

// Validate checks the token is present
func (t *Token) Validate(time.Time) error {
	if strings.TrimSpace(t.Value) == "" {
		return fmt.Errorf("%w: token is empty", ErrInvalidPaymentMethod)
	}
	return nil
}

// PaymentMethod is the persisted, masked form of a payment method
type PaymentMethod struct {
	ID              string            `json:"id"`
	CustomerID      string            `json:"customer_id"`
	Type            PaymentMethodType `json:"type"`
	CardBrand       string            `json:"card_brand,omitempty"`
	CardLast4       string            `json:"card_last4,omitempty"`
	ExpMonth        int               `json:"exp_month,omitempty"`
	ExpYear         int               `json:"exp_year,omitempty"`
	BankAccountType BankAccountType   `json:"bank_account_type,omitempty"`
	AccountLast4    string            `json:"account_last4,omitempty"`
	RoutingLast4    string            `json:"routing_last4,omitempty"`
	BankName        string            `json:"bank_name,omitempty"`
	HolderName      string            `json:"holder_name,omitempty"`
	GatewayToken    string            `json:"gateway_token,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewMaskedPaymentMethod builds a masked record from raw card or bank input
func NewMaskedPaymentMethod(customerID string, in PaymentMethodInput) (*PaymentMethod, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrValidation)
	}

	now := time.Now().UTC()
	pm := &PaymentMethod{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		Type:       in.Type(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := MatchPaymentMethod(in,
		func(c *CreditCard) error {
			number := c.NormalizedNumber()
			pm.CardBrand = DetectCardBrand(number)
			pm.CardLast4 = lastN(number, 4)
			pm.ExpMonth = c.ExpMonth
			pm.ExpYear = c.FullExpYear()
			pm.HolderName = c.HolderName
			return nil
		},
		func(b *BankAccount) error {
			pm.BankAccountType = b.AccountType
			pm.AccountLast4 = lastN(digitsOnly(b.AccountNumber), 4)
			pm.RoutingLast4 = lastN(digitsOnly(b.RoutingNumber), 4)
			pm.BankName = b.BankName
			pm.HolderName = b.NameOnAccount
			return nil
		},
		func(t *Token) error {
			return fmt.Errorf("%w: token inputs are resolved, not masked", ErrInvalidPaymentMethod)
		},
	)
	if err != nil {
		return nil, err
	}
	return pm, nil
}

// NewTokenPaymentMethod records a gateway token as-is for a customer
func NewTokenPaymentMethod(customerID, token string) *PaymentMethod {
	now := time.Now().UTC()
	return &PaymentMethod{
		ID:           uuid.New().String(),
		CustomerID:   customerID,
		Type:         PaymentMethodTypeToken,
		GatewayToken: token,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// MaskedNumber renders the last four digits, e.g. XXXX1111
func (pm *PaymentMethod) MaskedNumber() string {
	switch pm.Type {
	case PaymentMethodTypeCreditCard:
		return "XXXX" + pm.CardLast4
	case PaymentMethodTypeBankAccount:
		return "XXXX" + pm.AccountLast4
	default:
		return ""
	}
}

// DetectCardBrand returns the card network from the IIN prefix
func DetectCardBrand(number string) string {
	n := digitsOnly(number)
	switch {
	case strings.HasPrefix(n, "4"):
		return "visa"
	case strings.HasPrefix(n, "34"), strings.HasPrefix(n, "37"):
		return "amex"
	case inPrefixRange(n, 2, 51, 55), inPrefixRange(n, 4, 2221, 2720):
		return "mastercard"
	case strings.HasPrefix(n, "6011"), strings.HasPrefix(n, "65"), inPrefixRange(n, 3, 644, 649):
		return "discover"
	case inPrefixRange(n, 4, 3528, 3589):
		return "jcb"
	case strings.HasPrefix(n, "36"), strings.HasPrefix(n, "38"), inPrefixRange(n, 3, 300, 305):
		return "diners"
	default:
		return "unknown"
	}
}

func inPrefixRange(n string, width, lo, hi int) bool {
	if len(n) < width {
		return false
	}
	v := 0
	for _, r := range n[:width] {
		v = v*10 + int(r-'0')
	}
	return v >= lo && v <= hi
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func abaRoutingValid(routing string) bool {
	if len(routing) != 9 || digitsOnly(routing) != routing {
		return false
	}
	weights := [9]int{3, 7, 1, 3, 7, 1, 3, 7, 1}
	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(routing[i]-'0') * weights[i]
	}
	return sum%10 == 0
}
