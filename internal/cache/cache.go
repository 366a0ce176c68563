// Package cache provides the read-through query cache used by the gateway.
// Entries are short-lived; the cache is never a source of truth.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/sandwichfarm/zapline/internal/config"
)

// Store is a TTL key/value store supporting prefix invalidation
type Store interface {
	// Get returns the value and whether it was present
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix
	DeletePrefix(ctx context.Context, prefix string) error
}

// New builds the store selected by cfg. A disabled cache yields a nil Store.
func New(cfg *config.Caching) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Engine {
	case "memory", "":
		return NewMemoryStore(), nil
	case "redis":
		store, err := NewRedisStore(cfg.RedisURL, cfg.Namespace)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis cache: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported cache engine: %s", cfg.Engine)
	}
}
