package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
	pkgredis "github.com/Anjali24Singh/payment-gateway-sub004/pkg/redis"
)

//go:embed scripts/complete_idempotency.lua
var completeIdempotencyScript string

//go:embed scripts/release_idempotency.lua
var releaseIdempotencyScript string

const (
	scriptCompleteIdempotency = "complete_idempotency"
	scriptReleaseIdempotency  = "release_idempotency"
)

const idempotencyKeyPrefix = "idempotency:"

// RedisIdempotencyStore implements IdempotencyStore with SET NX reservations
type RedisIdempotencyStore struct {
	client *pkgredis.Client
	ttl    IdempotencyTTL
}

// NewRedisIdempotencyStore creates a new Redis idempotency store
func NewRedisIdempotencyStore(client *pkgredis.Client, ttl IdempotencyTTL) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl.withDefaults()}
}

func (s *RedisIdempotencyStore) redisKey(key string) string {
	return idempotencyKeyPrefix + key
}

// ReserveOrGet sets a processing record with the processing TTL; an expired reservation simply disappears
func (s *RedisIdempotencyStore) ReserveOrGet(ctx context.Context, key, fingerprint string) (*ReserveResult, error) {
	now := time.Now().UTC()
	token := newReservationToken()
	record := IdempotencyRecord{
		Key:         key,
		Fingerprint: fingerprint,
		Token:       token,
		Status:      IdempotencyProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	// The key can expire between SETNX and GET; one more round settles it
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, s.redisKey(key), data, s.ttl.Processing).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
		}
		if ok {
			return &ReserveResult{IsNew: true, Token: token}, nil
		}

		existing, err := s.Get(ctx, key)
		if err == ErrIdempotencyKeyNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &ReserveResult{Existing: existing}, nil
	}
	return nil, fmt.Errorf("failed to reserve idempotency key %q: key churned during reservation", key)
}

// Get returns the record for key
func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if pkgredis.IsNil(err) {
			return nil, ErrIdempotencyKeyNotFound
		}
		return nil, fmt.Errorf("failed to get idempotency key: %w", err)
	}

	var rec IdempotencyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}
	return &rec, nil
}

// Complete replaces the reservation with the completed record and the completed TTL.
// Ownership is checked inside the script against the record present at write time.
func (s *RedisIdempotencyStore) Complete(ctx context.Context, key, token string, txn *domain.Transaction) error {
	rec, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	rec.Status = IdempotencyCompleted
	rec.TransactionID = txn.ID
	rec.Result = txn
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	res, err := s.client.EvalWithFallback(ctx, scriptCompleteIdempotency, completeIdempotencyScript,
		[]string{s.redisKey(key)}, string(data), s.ttl.Completed.Milliseconds(), token, txn.ID).Int()
	if err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	switch res {
	case 0:
		return ErrIdempotencyKeyNotFound
	case -1:
		return ErrReservationLost
	}
	return nil
}

// Release removes the caller's in-flight reservation; completed records and other holders' reservations are kept
func (s *RedisIdempotencyStore) Release(ctx context.Context, key, token string) error {
	err := s.client.EvalWithFallback(ctx, scriptReleaseIdempotency, releaseIdempotencyScript,
		[]string{s.redisKey(key)}, token).Err()
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
