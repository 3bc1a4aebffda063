package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
)

var (
	// ErrIdempotencyKeyNotFound is returned when no reservation exists for a key
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrReservationLost is returned when the caller's reservation was taken over by another request
	ErrReservationLost = errors.New("idempotency reservation held by another request")
)

// IdempotencyStatus is the state of a reservation
type IdempotencyStatus string

const (
	IdempotencyProcessing IdempotencyStatus = "processing"
	IdempotencyCompleted  IdempotencyStatus = "completed"
)

// IdempotencyRecord is the stored state of one idempotency key
type IdempotencyRecord struct {
	Key           string              `json:"key"`
	Fingerprint   string              `json:"fingerprint"`
	Token         string              `json:"token"`
	Status        IdempotencyStatus   `json:"status"`
	TransactionID string              `json:"transaction_id,omitempty"`
	Result        *domain.Transaction `json:"result,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// completableBy reports whether a Complete call carrying token may write txnID into the record
func (r *IdempotencyRecord) completableBy(token, txnID string) bool {
	if token != "" && r.Token == token {
		return true
	}
	return r.Status == IdempotencyCompleted && r.TransactionID == txnID
}

// ReserveResult is the answer to ReserveOrGet
type ReserveResult struct {
	// IsNew is true for exactly one caller per key
	IsNew bool
	// Token identifies the caller's reservation when IsNew is true
	Token string
	// Existing is the stored record when IsNew is false
	Existing *IdempotencyRecord
}

// IdempotencyStore records idempotency keys with atomic insert-if-absent semantics
type IdempotencyStore interface {
	// ReserveOrGet atomically marks key in flight when absent, otherwise returns the stored record.
	// A processing reservation older than the processing TTL may be taken over.
	ReserveOrGet(ctx context.Context, key, fingerprint string) (*ReserveResult, error)

	// Get returns the current record for key
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)

	// Complete stores the final transaction snapshot for key. It succeeds when token holds the
	// reservation, or when the record is already completed for txn; otherwise it returns ErrReservationLost.
	Complete(ctx context.Context, key, token string, txn *domain.Transaction) error

	// Release removes the in-flight reservation held by token so the key can be retried
	Release(ctx context.Context, key, token string) error
}

// IdempotencyTTL holds reservation lifetimes
type IdempotencyTTL struct {
	Processing time.Duration
	Completed  time.Duration
}

// DefaultIdempotencyTTL returns default lifetimes
func DefaultIdempotencyTTL() IdempotencyTTL {
	return IdempotencyTTL{
		Processing: 2 * time.Minute,
		Completed:  24 * time.Hour,
	}
}

func newReservationToken() string {
	return uuid.New().String()
}

func (t IdempotencyTTL) withDefaults() IdempotencyTTL {
	d := DefaultIdempotencyTTL()
	if t.Processing <= 0 {
		t.Processing = d.Processing
	}
	if t.Completed <= 0 {
		t.Completed = d.Completed
	}
	return t
}
