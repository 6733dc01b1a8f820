package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

// KeyLedger remembers the idempotency key handed out for a booking
// fingerprint so that retries from any gateway instance reuse it.
type KeyLedger struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewKeyLedger stores keys under prefix for ttl.
func NewKeyLedger(client redis.Cmdable, prefix string, ttl time.Duration) *KeyLedger {
	if prefix == "" {
		prefix = "tutorflow:idem:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &KeyLedger{client: client, prefix: prefix, ttl: ttl}
}

// Reserve returns the key already recorded for fingerprint, or records and
// returns a new one.
func (l *KeyLedger) Reserve(ctx context.Context, fingerprint string) (string, error) {
	k := l.prefix + fingerprint
	fresh := uuid.NewString()
	ok, err := l.client.SetNX(ctx, k, fresh, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return fresh, nil
	}
	existing, err := l.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return fresh, l.client.Set(ctx, k, fresh, l.ttl).Err()
	}
	if err != nil {
		return "", fmt.Errorf("read idempotency key: %w", err)
	}
	return existing, nil
}

// Forget drops the key for fingerprint.
func (l *KeyLedger) Forget(ctx context.Context, fingerprint string) error {
	return l.client.Del(ctx, l.prefix+fingerprint).Err()
}
