package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// minorUnits is the ISO 4217 exponent for supported currencies
var minorUnits = map[string]int32{
	"USD": 2, "EUR": 2, "GBP": 2, "CAD": 2, "AUD": 2, "NZD": 2,
	"CHF": 2, "SEK": 2, "NOK": 2, "DKK": 2, "SGD": 2, "HKD": 2,
	"THB": 2, "INR": 2, "MXN": 2, "BRL": 2, "PLN": 2, "ZAR": 2,
	"JPY": 0, "KRW": 0, "VND": 0, "CLP": 0,
	"BHD": 3, "KWD": 3, "JOD": 3, "OMR": 3,
}

// amountLimit is exclusive. It matches the NUMERIC(19,4) amount columns and keeps
// minor units of every supported exponent within int64.
var amountLimit = decimal.New(1, 15)

// NormalizeCurrency upper-cases and validates an ISO 4217 code
func NormalizeCurrency(currency string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if _, ok := minorUnits[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	return c, nil
}

// MinorUnits returns the number of decimal places for a currency
func MinorUnits(currency string) int32 {
	if exp, ok := minorUnits[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// ValidateAmount checks an amount is positive and fits the currency's scale
func ValidateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	if amount.GreaterThanOrEqual(amountLimit) {
		return fmt.Errorf("%w: amount must be less than %s", ErrInvalidAmount, amountLimit)
	}
	exp := MinorUnits(currency)
	if !amount.Equal(amount.Truncate(exp)) {
		return fmt.Errorf("%w: %s allows at most %d decimal places", ErrInvalidAmount, currency, exp)
	}
	return nil
}

// ToMinorUnits converts an amount to integer minor units, e.g. 100.25 USD -> 10025
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(MinorUnits(currency)).IntPart()
}

// FromMinorUnits converts integer minor units back to a decimal amount
func FromMinorUnits(units int64, currency string) decimal.Decimal {
	return decimal.New(units, -MinorUnits(currency))
}
