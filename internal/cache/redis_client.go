package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spherical/page-pipeline/internal/config"
	"github.com/spherical/page-pipeline/internal/observability"
)

const (
	defaultRedisPrefix = "pp:"
	redisConnectWait   = 5 * time.Second
	unlinkBatch        = 100
	subscriberBuffer   = 100
)

// RedisClient backs the prompt cache and progress channels with Redis so
// several processes (API server, CLI workers) share them.
type RedisClient struct {
	rdb    *redis.Client
	prefix string
	logger *observability.Logger
}

var _ Client = (*RedisClient)(nil)

// NewRedisClient connects and pings the server.
func NewRedisClient(cfg config.RedisConfig, logger *observability.Logger) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: redisConnectWait,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectWait)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	c := &RedisClient{rdb: rdb, prefix: cfg.Prefix, logger: observability.OrNop(logger).WithOperation("redis_cache")}
	if c.prefix == "" {
		c.prefix = defaultRedisPrefix
	}
	c.logger.Debug().Str("addr", cfg.Addr).Int("db", cfg.DB).Str("prefix", c.prefix).Msg("redis cache connected")
	return c, nil
}

func (c *RedisClient) key(k string) string {
	return c.prefix + k
}

// Ping reports whether the server is reachable.
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisClient) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// DeleteByPrefix scans for matching keys and unlinks them in batches.
func (c *RedisClient) DeleteByPrefix(ctx context.Context, prefix string) error {
	iter := c.rdb.Scan(ctx, 0, c.key(prefix)+"*", unlinkBatch).Iterator()

	batch := make([]string, 0, unlinkBatch)
	removed := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.rdb.Unlink(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis unlink %s*: %w", prefix, err)
		}
		removed += len(batch)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == unlinkBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s*: %w", prefix, err)
	}
	if err := flush(); err != nil {
		return err
	}

	c.logger.Debug().Str("prefix", prefix).Int("keys", removed).Msg("cache keys removed")
	return nil
}

// Publish sends message as JSON. Having no subscribers is not an error.
func (c *RedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", channel, err)
	}
	if err := c.rdb.Publish(ctx, c.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns after Redis confirms the subscription, so nothing
// published afterwards is missed. The channel closes when cancel is called or
// the connection drops.
func (c *RedisClient) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ps := c.rdb.Subscribe(ctx, c.key(channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	stop := make(chan struct{})
	msgs := ps.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-stop:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-stop:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			if err := ps.Close(); err != nil {
				c.logger.Debug().Str("channel", channel).Err(err).Msg("closing subscription")
			}
		})
	}
	return out, cancel, nil
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
