// Package cache provides the key/value cache and progress pub/sub used by the
// prompt provider and the task orchestrator.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spherical/page-pipeline/internal/config"
	"github.com/spherical/page-pipeline/internal/observability"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Publish(ctx context.Context, channel string, message interface{}) error
	// Subscribe delivers raw JSON payloads until the returned cancel func is called.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
	Close() error
}

// New builds the configured cache client.
func New(cfg config.CacheConfig, logger *observability.Logger) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedisClient(cfg.Redis, logger)
	case "memory", "":
		return NewMemoryClient(cfg.MaxEntries), nil
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", cfg.Driver)
	}
}

// CacheKey generates a cache key from components.
func CacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// PromptKey is where the active prompt set is cached.
func PromptKey() string {
	return CacheKey("prompts", "active")
}

// ProgressChannel is the pub/sub channel for one task's progress events.
func ProgressChannel(taskID string) string {
	return CacheKey("progress", taskID)
}
