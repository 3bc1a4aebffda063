package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Address is a billing address
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// CustomerInfo is the customer identity submitted with a payment
type CustomerInfo struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Company   string
	Address   *Address
}

// Customer is a merchant-side customer identity
type Customer struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	FirstName        string    `json:"first_name,omitempty"`
	LastName         string    `json:"last_name,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	Company          string    `json:"company,omitempty"`
	Address          *Address  `json:"address,omitempty"`
	GatewayProfileID string    `json:"gateway_profile_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NormalizeEmail lower-cases and trims an email for lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks the email is a bare address
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return nil
}

// NewCustomer creates a customer from submitted info
func NewCustomer(info CustomerInfo) (*Customer, error) {
	if err := ValidateEmail(info.Email); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Customer{
		ID:        uuid.New().String(),
		Email:     NormalizeEmail(info.Email),
		FirstName: info.FirstName,
		LastName:  info.LastName,
		Phone:     info.Phone,
		Company:   info.Company,
		Address:   info.Address,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// HasGatewayProfile reports whether a gateway-side profile is linked
func (c *Customer) HasGatewayProfile() bool {
	return c.GatewayProfileID != ""
}

// LinkGatewayProfile records the gateway-side profile id once
func (c *Customer) LinkGatewayProfile(profileID string) {
	if c.GatewayProfileID != "" || profileID == "" {
		return
	}
	c.GatewayProfileID = profileID
	c.UpdatedAt = time.Now().UTC()
}

// FullName joins first and last name
func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}
