package events

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
)

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) ProduceJSON(ctx context.Context, topic, key string, value interface{}, headers map[string]string) error {
	args := m.Called(ctx, topic, key, value, headers)
	return args.Error(0)
}

func (m *mockProducer) Close() error {
	return m.Called().Error(0)
}

func TestEventType(t *testing.T) {
	assert.Equal(t, "payment.transaction.captured", EventType(domain.TransactionStatusCaptured))
	assert.Equal(t, "payment.transaction.failed", EventType(domain.TransactionStatusFailed))
}

func TestKafkaPublisher_PublishTransaction(t *testing.T) {
	producer := new(mockProducer)
	pub := NewKafkaPublisher(producer, "", "")

	txn := domain.NewTransaction(domain.TransactionTypePurchase, decimal.NewNullDecimal(decimal.RequireFromString("100.00")), "USD")
	txn.CorrelationID = "corr-1"
	require.NoError(t, txn.Approve(domain.GatewayDetails{TransactionID: "gw_1"}))

	producer.On("ProduceJSON", mock.Anything, DefaultTopic, txn.ID,
		mock.MatchedBy(func(e *TransactionEvent) bool {
			return e.TransactionID == txn.ID && e.EventType == "payment.transaction.captured" && e.GatewayTransactionID == "gw_1"
		}),
		mock.MatchedBy(func(h map[string]string) bool {
			return h["event_type"] == "payment.transaction.captured" && h["correlation_id"] == "corr-1"
		}),
	).Return(nil).Once()

	require.NoError(t, pub.PublishTransaction(context.Background(), txn))
	producer.AssertExpectations(t)
}

func TestKafkaPublisher_FollowOnKeyedByParent(t *testing.T) {
	producer := new(mockProducer)
	pub := NewKafkaPublisher(producer, "payments", "svc")

	txn := domain.NewTransaction(domain.TransactionTypeRefund, decimal.NewNullDecimal(decimal.RequireFromString("5.00")), "USD")
	txn.ParentTransactionID = "parent-1"

	producer.On("ProduceJSON", mock.Anything, "payments", "parent-1", mock.Anything, mock.Anything).
		Return(errors.New("broker down")).Once()

	err := pub.PublishTransaction(context.Background(), txn)
	assert.ErrorContains(t, err, "broker down")
	producer.AssertExpectations(t)
}

func TestNoopPublisher(t *testing.T) {
	pub := NewNoopPublisher()
	assert.NoError(t, pub.PublishTransaction(context.Background(), &domain.Transaction{}))
	assert.NoError(t, pub.Close())
}
