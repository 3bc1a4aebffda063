package repository

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgredis "github.com/Anjali24Singh/payment-gateway-sub004/pkg/redis"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

const scriptReleaseLock = "release_lock"

const lockKeyPrefix = "lock:"

// RedisLocker implements Locker with SET NX PX and a token-checked release
type RedisLocker struct {
	client *pkgredis.Client
}

// NewRedisLocker creates a new Redis locker
func NewRedisLocker(client *pkgredis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// LoadScripts loads the lock scripts into Redis
func (l *RedisLocker) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptReleaseLock:         releaseLockScript,
		scriptCompleteIdempotency: completeIdempotencyScript,
	}
	for name, script := range scripts {
		if _, err := l.client.LoadScript(ctx, name, script); err != nil {
			return fmt.Errorf("failed to load script %s: %w", name, err)
		}
	}
	return nil
}

// TryAcquire takes the lock if it is free
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, lockKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &redisLock{client: l.client, key: lockKeyPrefix + key, token: token}, nil
}

type redisLock struct {
	client *pkgredis.Client
	key    string
	token  string
}

// Release deletes the lock if this holder still owns it
func (l *redisLock) Release(ctx context.Context) error {
	if err := l.client.EvalWithFallback(ctx, scriptReleaseLock, releaseLockScript, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
