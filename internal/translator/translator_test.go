package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
)

func TestTranslate(t *testing.T) {
	tr := New()

	tests := []struct {
		reason    string
		code      domain.ErrorCode
		retryable bool
	}{
		{"2", domain.ErrorCodeCardDeclined, false},
		{"6", domain.ErrorCodeInvalidCard, false},
		{"5", domain.ErrorCodeInvalidAmount, false},
		{"27", domain.ErrorCodeAVSMismatch, false},
		{"13", domain.ErrorCodeMerchantNotConfigured, false},
		{"19", domain.ErrorCodeProcessing, true},
		{"33", domain.ErrorCodeValidation, false},
		{"generic_decline", domain.ErrorCodeCardDeclined, false},
		{"INSUFFICIENT_FUNDS", domain.ErrorCodeInsufficientFunds, false},
		{"expired_card", domain.ErrorCodeInvalidCard, false},
		{"incorrect_zip", domain.ErrorCodeAVSMismatch, false},
		{"amount_too_large", domain.ErrorCodeInvalidAmount, false},
		{"processing_error", domain.ErrorCodeProcessing, true},
		{"rate_limit", domain.ErrorCodeNetwork, true},
		{"resource_missing", domain.ErrorCodeValidation, false},
		{"something_new", domain.ErrorCodeProcessing, true},
		{"", domain.ErrorCodeProcessing, true},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			got := tr.Translate(tt.reason)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.retryable, got.Retryable)
		})
	}
}

func TestTranslateDecline(t *testing.T) {
	tr := New()

	code, msg, retryable := tr.TranslateDecline(domain.GatewayDetails{ReasonCode: "generic_decline", ReasonText: "Your card was declined."})
	assert.Equal(t, domain.ErrorCodeCardDeclined, code)
	assert.Equal(t, "Your card was declined.", msg)
	assert.False(t, retryable)

	code, msg, retryable = tr.TranslateDecline(domain.GatewayDetails{ReasonCode: "999"})
	assert.Equal(t, domain.ErrorCodeProcessing, code)
	assert.NotEmpty(t, msg)
	assert.True(t, retryable)
}

func TestTranslate_OnlyClosedSet(t *testing.T) {
	allowed := map[domain.ErrorCode]bool{
		domain.ErrorCodeCardDeclined:          true,
		domain.ErrorCodeInsufficientFunds:     true,
		domain.ErrorCodeInvalidCard:           true,
		domain.ErrorCodeInvalidAmount:         true,
		domain.ErrorCodeAVSMismatch:           true,
		domain.ErrorCodeMerchantNotConfigured: true,
		domain.ErrorCodeProcessing:            true,
		domain.ErrorCodeNetwork:               true,
		domain.ErrorCodeValidation:            true,
	}
	for reason, tr := range defaultCodes() {
		assert.True(t, allowed[tr.Code], "reason %s maps outside the taxonomy: %s", reason, tr.Code)
	}
}
