package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
)

// DefaultTopic is the topic transaction events are published to
const DefaultTopic = "payment-transactions"

// TransactionEvent is the payload published when a transaction reaches a result
type TransactionEvent struct {
	EventID                string                   `json:"event_id"`
	EventType              string                   `json:"event_type"`
	OccurredAt             time.Time                `json:"occurred_at"`
	TransactionID          string                   `json:"transaction_id"`
	ParentTransactionID    string                   `json:"parent_transaction_id,omitempty"`
	CorrelationID          string                   `json:"correlation_id,omitempty"`
	Type                   domain.TransactionType   `json:"type"`
	Status                 domain.TransactionStatus `json:"status"`
	Amount                 decimal.NullDecimal      `json:"amount"`
	Currency               string                   `json:"currency"`
	GatewayTransactionID   string                   `json:"gateway_transaction_id,omitempty"`
	CustomerID             string                   `json:"customer_id,omitempty"`
	ErrorCode              domain.ErrorCode         `json:"error_code,omitempty"`
	ReconciliationRequired bool                     `json:"reconciliation_required"`
}

// EventType names the event for a transaction status, e.g. payment.transaction.captured
func EventType(status domain.TransactionStatus) string {
	return "payment.transaction." + strings.ToLower(string(status))
}

// NewTransactionEvent builds the event for the transaction's current state
func NewTransactionEvent(t *domain.Transaction) *TransactionEvent {
	return &TransactionEvent{
		EventID:                uuid.New().String(),
		EventType:              EventType(t.Status),
		OccurredAt:             time.Now().UTC(),
		TransactionID:          t.ID,
		ParentTransactionID:    t.ParentTransactionID,
		CorrelationID:          t.CorrelationID,
		Type:                   t.Type,
		Status:                 t.Status,
		Amount:                 t.Amount,
		Currency:               t.Currency,
		GatewayTransactionID:   t.GatewayTransactionID,
		CustomerID:             t.CustomerID,
		ErrorCode:              t.ErrorCode,
		ReconciliationRequired: t.ReconciliationRequired,
	}
}

// Publisher publishes transaction events
type Publisher interface {
	PublishTransaction(ctx context.Context, t *domain.Transaction) error
	Close() error
}

// Producer is the part of the Kafka producer the publisher needs
type Producer interface {
	ProduceJSON(ctx context.Context, topic, key string, value interface{}, headers map[string]string) error
	Close() error
}

// KafkaPublisher implements Publisher using Kafka
type KafkaPublisher struct {
	producer    Producer
	topic       string
	serviceName string
}

// NewKafkaPublisher creates a new Kafka publisher
func NewKafkaPublisher(producer Producer, topic, serviceName string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if serviceName == "" {
		serviceName = "payment-orchestrator"
	}
	return &KafkaPublisher{producer: producer, topic: topic, serviceName: serviceName}
}

// PublishTransaction publishes the transaction's current state keyed by transaction id
func (p *KafkaPublisher) PublishTransaction(ctx context.Context, t *domain.Transaction) error {
	event := NewTransactionEvent(t)
	headers := map[string]string{
		"event_type":     event.EventType,
		"event_id":       event.EventID,
		"correlation_id": t.CorrelationID,
		"source":         p.serviceName,
		"content_type":   "application/json",
	}

	// follow-ons share the parent's key so one payment's events stay ordered
	key := t.ID
	if t.ParentTransactionID != "" {
		key = t.ParentTransactionID
	}

	if err := p.producer.ProduceJSON(ctx, p.topic, key, event, headers); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.EventType, err)
	}
	return nil
}

// Close closes the underlying producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NoopPublisher discards events
type NoopPublisher struct{}

// NewNoopPublisher creates a new no-op publisher
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

func (p *NoopPublisher) PublishTransaction(ctx context.Context, t *domain.Transaction) error {
	return nil
}

func (p *NoopPublisher) Close() error {
	return nil
}
