package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"staybook/internal/config"
	"staybook/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockRetryInterval = 25 * time.Millisecond

// releaseScript deletes the lock only while it is still held by the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisPropertyLocker is a per-property mutex shared across API replicas.
type RedisPropertyLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

func NewRedisPropertyLocker(client *redis.Client, ttl, wait time.Duration) *RedisPropertyLocker {
	return &RedisPropertyLocker{client: client, ttl: ttl, wait: wait}
}

func lockKey(propertyID int64) string {
	return fmt.Sprintf("staybook:property_lock:%d", propertyID)
}

// Lock polls SET NX PX until the lock is free or the wait budget runs out.
// A busy lock yields domain.ErrConcurrentConflict; transport failures are
// returned as plain errors.
func (r *RedisPropertyLocker) Lock(ctx context.Context, propertyID int64) (domain.Lease, error) {
	if r.client == nil {
		return nil, errors.New("redis client is nil")
	}

	key := lockKey(propertyID)
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire property lock: %w", err)
		}
		if ok {
			return &redisLease{client: r.client, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("property %d is locked: %w", propertyID, domain.ErrConcurrentConflict)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release property lock: %w", err)
	}
	return nil
}

func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
