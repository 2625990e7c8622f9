// Package lock keeps two invocations of the bot from trading at the same time.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"go.uber.org/zap"
)

const (
	keyPrefix     = "lock:"
	unlockTimeout = 5 * time.Second
)

// unlockLua deletes the key only when it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Locker hands out run locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// ClientConfig holds connection parameters for Redis.
type ClientConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisLocker implements Locker with SETNX and a conditional unlock script.
type RedisLocker struct {
	l      *zap.Logger
	rdb    redis.UniversalClient
	unlock *redis.Script
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(ctx context.Context, l *zap.Logger, cfg ClientConfig) (*RedisLocker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisLockerFromClient(l, rdb), nil
}

// NewRedisLockerFromClient wraps an existing client.
func NewRedisLockerFromClient(l *zap.Logger, rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{l: l, rdb: rdb, unlock: redis.NewScript(unlockLua)}
}

// Acquire takes the lock for ttl. The returned release func may be called
// more than once. domain.ErrLockHeld means another invocation is running.
// A failed unlock is logged; the key then lives until ttl runs out.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	k := keyPrefix + key

	ok, err := l.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true

		// the caller's context may already be canceled
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		if err := l.unlock.Run(ctx, l.rdb, []string{k}, token).Err(); err != nil {
			l.l.Error("failed to release run lock",
				zap.String("key", k),
				zap.Duration("expires_in", ttl),
				zap.Error(err))
		}
	}, nil
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}

// NopLocker always grants the lock. Used when no Redis address is configured.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}
