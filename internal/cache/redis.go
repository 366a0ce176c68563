package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore is a Store shared across processes through redis.
// All keys are prefixed with the configured namespace.
type RedisStore struct {
	client    goredis.UniversalClient
	namespace string
}

// NewRedisStore connects to the redis instance at url (redis://...)
func NewRedisStore(url, namespace string) (*RedisStore, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewRedisStoreWithClient(goredis.NewClient(opts), namespace), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client goredis.UniversalClient, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.namespace+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.namespace+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// DeletePrefix scans the namespace for matching keys and deletes them in batches
func (r *RedisStore) DeletePrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	match := r.namespace + prefix + "*"
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return fmt.Errorf("redis scan %s: %w", match, err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close releases the client
func (r *RedisStore) Close() error {
	return r.client.Close()
}
