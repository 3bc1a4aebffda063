package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
)

var (
	// ErrLockHeld is returned when another operation holds the lock
	ErrLockHeld = errors.New("lock is held by another operation")

	// ErrDuplicateTransaction is returned when a transaction id or idempotency key is already stored
	ErrDuplicateTransaction = errors.New("transaction already exists")
)

// TransactionRepository defines the interface for transaction data access
type TransactionRepository interface {
	// Create inserts a new transaction
	Create(ctx context.Context, txn *domain.Transaction) error

	// GetByID retrieves a transaction by its ID
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)

	// GetWithPaymentMethod retrieves a transaction with its payment method eager-loaded.
	// The payment method is nil when the transaction has none.
	GetWithPaymentMethod(ctx context.Context, id string) (*domain.Transaction, *domain.PaymentMethod, error)

	// GetByIdempotencyKey retrieves a transaction by idempotency key
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)

	// Update persists txn if its version is unchanged since it was read, then bumps the version
	Update(ctx context.Context, txn *domain.Transaction) error

	// UpdateAll applies Update to every transaction atomically
	UpdateAll(ctx context.Context, txns ...*domain.Transaction) error

	// ListByCustomer lists a customer's transactions, newest first
	ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*domain.Transaction, error)

	// ListUnresolved lists PENDING transactions flagged for reconciliation and last touched before olderThan
	ListUnresolved(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Transaction, error)
}

// CustomerRepository defines the interface for customer data access
type CustomerRepository interface {
	// Create inserts a customer; a duplicate email returns domain.ErrCustomerAlreadyExists
	Create(ctx context.Context, customer *domain.Customer) error

	GetByID(ctx context.Context, id string) (*domain.Customer, error)

	// GetByEmail looks up a customer by case-insensitive email
	GetByEmail(ctx context.Context, email string) (*domain.Customer, error)

	// SetGatewayProfileID links a gateway profile if none is linked yet
	SetGatewayProfileID(ctx context.Context, customerID, profileID string) error

	// ListWithoutGatewayProfile lists customers whose gateway profile creation has not succeeded
	ListWithoutGatewayProfile(ctx context.Context, limit int) ([]*domain.Customer, error)
}

// PaymentMethodRepository defines the interface for payment method data access
type PaymentMethodRepository interface {
	Create(ctx context.Context, pm *domain.PaymentMethod) error
	GetByID(ctx context.Context, id string) (*domain.PaymentMethod, error)
	// GetByToken returns ErrPaymentMethodNotFound when the customer has no record for token
	GetByToken(ctx context.Context, customerID, token string) (*domain.PaymentMethod, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*domain.PaymentMethod, error)
}

// Lock is a held lock
type Lock interface {
	Release(ctx context.Context) error
}

// Locker serializes operations that reference the same transaction
type Locker interface {
	// TryAcquire takes the lock without waiting; ErrLockHeld means another holder exists
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}
