package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryLockEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker implements Locker for a single process
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLockEntry
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryLockEntry)}
}

func (l *MemoryLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if e, ok := l.locks[key]; ok && now.Before(e.expiresAt) {
		return nil, ErrLockHeld
	}
	token := uuid.New().String()
	l.locks[key] = memoryLockEntry{token: token, expiresAt: now.Add(ttl)}
	return &memoryLock{locker: l, key: key, token: token}, nil
}

type memoryLock struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (m *memoryLock) Release(ctx context.Context) error {
	l := m.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.locks[m.key]; ok && e.token == m.token {
		delete(l.locks, m.key)
	}
	return nil
}
