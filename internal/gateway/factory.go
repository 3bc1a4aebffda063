package gateway

import (
	"fmt"
	"strings"
	"time"
)

// GatewayType represents the type of payment gateway
type GatewayType string

const (
	GatewayTypeMock   GatewayType = "mock"
	GatewayTypeStripe GatewayType = "stripe"
)

// Config holds common gateway configuration
type Config struct {
	Type            string
	StripeSecretKey string
	CallTimeout     time.Duration
	MockDelay       time.Duration
	MockHangDelay   time.Duration
}

// NewClient creates the configured gateway wrapped with the bounded call timeout
func NewClient(config *Config) (Client, error) {
	if config == nil {
		return nil, fmt.Errorf("gateway config is required")
	}

	var inner Client
	switch GatewayType(strings.ToLower(config.Type)) {
	case GatewayTypeMock, "":
		mockCfg := DefaultMockGatewayConfig()
		mockCfg.Delay = config.MockDelay
		if config.MockHangDelay > 0 {
			mockCfg.HangDelay = config.MockHangDelay
		}
		inner = NewMockGateway(mockCfg)

	case GatewayTypeStripe:
		if config.StripeSecretKey == "" {
			return nil, fmt.Errorf("stripe secret key is required")
		}
		stripeGw, err := NewStripeGateway(&StripeGatewayConfig{SecretKey: config.StripeSecretKey})
		if err != nil {
			return nil, err
		}
		inner = stripeGw

	default:
		return nil, fmt.Errorf("unsupported gateway type: %s", config.Type)
	}

	return NewTimeoutClient(inner, config.CallTimeout), nil
}
