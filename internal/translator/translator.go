package translator

import (
	"strings"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
)

// Translation is the internal classification of a gateway reason code
type Translation struct {
	Code      domain.ErrorCode
	Retryable bool
}

// Translator maps gateway reason codes to the internal error taxonomy.
// It understands Authorize.Net numeric reason codes and Stripe error and decline codes.
type Translator struct {
	codes map[string]Translation
}

var (
	declined          = Translation{Code: domain.ErrorCodeCardDeclined}
	insufficientFunds = Translation{Code: domain.ErrorCodeInsufficientFunds}
	invalidCard       = Translation{Code: domain.ErrorCodeInvalidCard}
	invalidAmount     = Translation{Code: domain.ErrorCodeInvalidAmount}
	avsMismatch       = Translation{Code: domain.ErrorCodeAVSMismatch}
	merchant          = Translation{Code: domain.ErrorCodeMerchantNotConfigured}
	processing        = Translation{Code: domain.ErrorCodeProcessing, Retryable: true}
	network           = Translation{Code: domain.ErrorCodeNetwork, Retryable: true}
	validation        = Translation{Code: domain.ErrorCodeValidation}

	// Fallback applies to any code not in the table
	Fallback = processing
)

func defaultCodes() map[string]Translation {
	m := map[string]Translation{}
	set := func(t Translation, codes ...string) {
		for _, c := range codes {
			m[c] = t
		}
	}

	// Authorize.Net response reason codes
	set(declined, "2", "3", "4", "41", "44", "45", "250", "251", "254")
	set(invalidCard, "6", "7", "8", "37", "78", "315", "316", "317")
	set(invalidAmount, "5", "47", "48", "55")
	set(avsMismatch, "27", "65", "127")
	set(merchant, "13", "103", "123", "261")
	set(processing, "19", "20", "21", "22", "23", "25", "26", "35", "57", "58", "59", "60", "61", "62", "63", "120", "121", "122", "181")
	set(validation, "11", "15", "16", "17", "33", "54")

	// Stripe decline codes
	set(declined, "card_declined", "generic_decline", "do_not_honor", "fraudulent", "lost_card",
		"stolen_card", "pickup_card", "restricted_card", "transaction_not_allowed", "call_issuer",
		"security_violation", "service_not_allowed", "stop_payment_order", "revocation_of_authorization",
		"not_permitted", "merchant_blacklist", "authentication_required", "card_not_supported",
		"currency_not_supported", "new_account_information_available", "no_action_taken", "payment_intent_authentication_failure")
	set(insufficientFunds, "insufficient_funds", "card_velocity_exceeded", "withdrawal_count_limit_exceeded")
	set(invalidCard, "incorrect_number", "invalid_number", "invalid_expiry_month", "invalid_expiry_year",
		"expired_card", "incorrect_cvc", "invalid_cvc", "invalid_account", "invalid_pin", "incorrect_pin",
		"account_closed", "no_account", "bank_account_unusable", "debit_not_authorized")
	set(invalidAmount, "amount_too_large", "amount_too_small", "invalid_amount", "invalid_charge_amount")
	set(avsMismatch, "incorrect_zip", "incorrect_address", "postal_code_invalid")
	set(merchant, "api_key_expired", "account_invalid", "platform_api_key_expired", "testmode_charges_only",
		"secret_key_required", "livemode_mismatch", "account_country_invalid_address")
	set(processing, "processing_error", "try_again_later", "issuer_not_available", "reenter_transaction",
		"approve_with_id", "duplicate_transaction")
	set(network, "rate_limit", "lock_timeout")
	set(validation, "parameter_missing", "parameter_invalid_empty", "parameter_invalid_integer",
		"parameter_unknown", "resource_missing", "payment_intent_unexpected_state",
		"charge_already_refunded", "charge_already_captured", "charge_exceeds_source_limit")

	return m
}

// New creates a translator with the default code table
func New() *Translator {
	return &Translator{codes: defaultCodes()}
}

// Translate classifies a gateway reason code; unknown codes fall back to PROCESSING_ERROR, retryable
func (t *Translator) Translate(reasonCode string) Translation {
	code := strings.ToLower(strings.TrimSpace(reasonCode))
	if tr, ok := t.codes[code]; ok {
		return tr
	}
	return Fallback
}

// TranslateDecline returns the code, message and retryability for a gateway decline
func (t *Translator) TranslateDecline(d domain.GatewayDetails) (domain.ErrorCode, string, bool) {
	tr := t.Translate(d.ReasonCode)
	msg := d.ReasonText
	if msg == "" {
		msg = defaultMessage(tr.Code)
	}
	return tr.Code, msg, tr.Retryable
}

func defaultMessage(code domain.ErrorCode) string {
	switch code {
	case domain.ErrorCodeCardDeclined:
		return "The payment was declined"
	case domain.ErrorCodeInsufficientFunds:
		return "Insufficient funds"
	case domain.ErrorCodeInvalidCard:
		return "The payment method is invalid"
	case domain.ErrorCodeInvalidAmount:
		return "The amount is invalid"
	case domain.ErrorCodeAVSMismatch:
		return "The billing address did not match"
	case domain.ErrorCodeMerchantNotConfigured:
		return "The merchant account is not configured"
	case domain.ErrorCodeNetwork:
		return "The gateway could not be reached"
	case domain.ErrorCodeValidation:
		return "The gateway rejected the request"
	default:
		return "The gateway could not process the payment"
	}
}
