package di

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/events"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/repository"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "payment-orchestrator", Environment: "development"},
		Gateway: config.GatewayConfig{
			Type:        "mock",
			CallTimeout: 5 * time.Second,
		},
		Idempotency: config.IdempotencyConfig{
			Store:         "memory",
			ProcessingTTL: time.Minute,
			CompletedTTL:  time.Hour,
		},
		Reconciliation: config.ReconciliationConfig{
			ScanInterval: time.Second,
			BatchSize:    10,
			MinAge:       time.Minute,
		},
	}
}

func TestNewContainer_InMemory(t *testing.T) {
	c, err := NewContainer(&ContainerConfig{Config: memoryConfig()})
	require.NoError(t, err)

	assert.IsType(t, &repository.MemoryTransactionRepository{}, c.Transactions)
	assert.IsType(t, &repository.MemoryIdempotencyStore{}, c.Idempotency)
	assert.IsType(t, &repository.MemoryLocker{}, c.Locker)
	assert.IsType(t, &events.NoopPublisher{}, c.Events)
	assert.NotNil(t, c.Orchestrator)
	assert.NotNil(t, c.ReconcileWorker)
	assert.NotNil(t, c.HealthHandler)
	assert.NotNil(t, c.TransactionHandler)
}

func TestNewContainer_StoreRequiresConnection(t *testing.T) {
	tests := []struct {
		store string
	}{
		{"postgres"},
		{"redis"},
		{"etcd"},
	}

	for _, tt := range tests {
		t.Run(tt.store, func(t *testing.T) {
			cfg := memoryConfig()
			cfg.Idempotency.Store = tt.store
			_, err := NewContainer(&ContainerConfig{Config: cfg})
			assert.Error(t, err)
		})
	}
}

func TestNewContainer_UnknownGateway(t *testing.T) {
	cfg := memoryConfig()
	cfg.Gateway.Type = "paypal"
	_, err := NewContainer(&ContainerConfig{Config: cfg})
	assert.Error(t, err)
}

func TestNewContainer_NilConfig(t *testing.T) {
	_, err := NewContainer(nil)
	assert.Error(t, err)
}
