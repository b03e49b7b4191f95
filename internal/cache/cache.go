// Package cache provides the dedup fingerprint cache backends.
package cache

import (
	"fmt"

	"github.com/openretail/kestrel/internal/domain"
)

// New creates a cache from configuration. Single-node deployments use
// the in-process LRU; distributed ones share fingerprints via Redis.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
