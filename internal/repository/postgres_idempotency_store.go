package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/database"
)

// PostgresIdempotencyStore implements IdempotencyStore on a table with a primary key on the idempotency key
type PostgresIdempotencyStore struct {
	db  *database.PostgresDB
	ttl IdempotencyTTL
	now func() time.Time
}

// NewPostgresIdempotencyStore creates a new PostgreSQL idempotency store
func NewPostgresIdempotencyStore(db *database.PostgresDB, ttl IdempotencyTTL) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{db: db, ttl: ttl.withDefaults(), now: time.Now}
}

// ReserveOrGet inserts a processing reservation unless a live record exists.
// Stale processing reservations and expired completed records are taken over in the same statement.
func (s *PostgresIdempotencyStore) ReserveOrGet(ctx context.Context, key, fingerprint string) (*ReserveResult, error) {
	now := s.now().UTC()
	token := newReservationToken()
	query := `
		INSERT INTO idempotency_keys (key, fingerprint, token, status, locked_until, expires_at, created_at, updated_at)
		VALUES ($1, $2, $6, 'processing', $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE
		SET fingerprint = EXCLUDED.fingerprint,
		    token = EXCLUDED.token,
		    status = 'processing',
		    transaction_id = NULL,
		    result = NULL,
		    locked_until = EXCLUDED.locked_until,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE (idempotency_keys.status = 'processing' AND idempotency_keys.locked_until < $5)
		   OR idempotency_keys.expires_at < $5
		RETURNING key`

	var reserved string
	err := s.db.Pool().QueryRow(ctx, query, key, fingerprint, now.Add(s.ttl.Processing), now.Add(s.ttl.Completed), now, token).Scan(&reserved)
	if err == nil {
		return &ReserveResult{IsNew: true, Token: token}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}

	existing, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &ReserveResult{Existing: existing}, nil
}

// Get returns the record for key
func (s *PostgresIdempotencyStore) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	query := `
		SELECT key, fingerprint, token, status, transaction_id, result, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1`

	var rec IdempotencyRecord
	var status string
	var txnID *string
	var result []byte

	err := s.db.Pool().QueryRow(ctx, query, key).Scan(&rec.Key, &rec.Fingerprint, &rec.Token, &status, &txnID, &result, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIdempotencyKeyNotFound
		}
		return nil, fmt.Errorf("failed to get idempotency key: %w", err)
	}

	rec.Status = IdempotencyStatus(status)
	rec.TransactionID = deref(txnID)
	if len(result) > 0 {
		rec.Result = &domain.Transaction{}
		if err := json.Unmarshal(result, rec.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal idempotency result: %w", err)
		}
	}
	return &rec, nil
}

// Complete stores the transaction snapshot for the reservation holder; completing again for the
// same transaction overwrites the snapshot
func (s *PostgresIdempotencyStore) Complete(ctx context.Context, key, token string, txn *domain.Transaction) error {
	result, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency result: %w", err)
	}

	now := s.now().UTC()
	query := `
		UPDATE idempotency_keys
		SET status = 'completed',
		    transaction_id = $2,
		    result = $3,
		    locked_until = NULL,
		    expires_at = $4,
		    updated_at = $5
		WHERE key = $1
		  AND (($6 <> '' AND token = $6) OR (status = 'completed' AND transaction_id = $2))`

	tag, err := s.db.Pool().Exec(ctx, query, key, txn.ID, result, now.Add(s.ttl.Completed), now, token)
	if err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, key); err != nil {
			return err
		}
		return ErrReservationLost
	}
	return nil
}

// Release deletes the caller's in-flight reservation; completed records are kept
func (s *PostgresIdempotencyStore) Release(ctx context.Context, key, token string) error {
	_, err := s.db.Pool().Exec(ctx,
		`DELETE FROM idempotency_keys WHERE key = $1 AND status = 'processing' AND token = $2`, key, token)
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
