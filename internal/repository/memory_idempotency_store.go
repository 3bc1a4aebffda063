package repository

import (
	"context"
	"sync"
	"time"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/domain"
)

type memoryIdempotencyEntry struct {
	record    IdempotencyRecord
	expiresAt time.Time
}

// MemoryIdempotencyStore implements IdempotencyStore in memory
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*memoryIdempotencyEntry
	ttl     IdempotencyTTL
	now     func() time.Time
}

// NewMemoryIdempotencyStore creates an in-memory idempotency store
func NewMemoryIdempotencyStore(ttl IdempotencyTTL) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]*memoryIdempotencyEntry),
		ttl:     ttl.withDefaults(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryIdempotencyStore) ReserveOrGet(ctx context.Context, key, fingerprint string) (*ReserveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		rec := e.record
		return &ReserveResult{Existing: &rec}, nil
	}

	token := newReservationToken()
	s.entries[key] = &memoryIdempotencyEntry{
		record: IdempotencyRecord{
			Key:         key,
			Fingerprint: fingerprint,
			Token:       token,
			Status:      IdempotencyProcessing,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		expiresAt: now.Add(s.ttl.Processing),
	}
	return &ReserveResult{IsNew: true, Token: token}, nil
}

func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, ErrIdempotencyKeyNotFound
	}
	rec := e.record
	return &rec, nil
}

func (s *MemoryIdempotencyStore) Complete(ctx context.Context, key, token string, txn *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return ErrIdempotencyKeyNotFound
	}
	if !e.record.completableBy(token, txn.ID) {
		return ErrReservationLost
	}
	now := s.now()
	e.record.Status = IdempotencyCompleted
	e.record.TransactionID = txn.ID
	e.record.Result = txn.Clone()
	e.record.UpdatedAt = now
	e.expiresAt = now.Add(s.ttl.Completed)
	return nil
}

func (s *MemoryIdempotencyStore) Release(ctx context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && e.record.Status == IdempotencyProcessing && e.record.Token == token {
		delete(s.entries, key)
	}
	return nil
}
