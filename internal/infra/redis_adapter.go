// Package infra holds concrete adapters for external infrastructure that
// the rest of the kiosk only sees through small interfaces.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connection limits sized for a single station: the directory tier issues at
// most one lookup per sighting, so a small pool is plenty.
const (
	redisDialTimeout = 3 * time.Second
	redisIOTimeout   = 2 * time.Second
	redisPoolSize    = 20
)

// RedisCache adapts go-redis v9 to the directory.CacheClient surface. When
// Redis is unreachable at boot, cmd/kiosk wires the directory without a
// shared tier instead of handing out a broken cache.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache dials Redis and verifies the connection with a ping, so a
// bad address surfaces at boot rather than on the first sighting.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  redisIOTimeout,
		WriteTimeout: redisIOTimeout,
		PoolSize:     redisPoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis connected", "addr", addr, "db", db)
	return &RedisCache{rdb: rdb}, nil
}

// Get returns nil bytes on a clean miss; the directory treats an empty
// payload as absent.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Close releases the pool. The station holds its cache for the process
// lifetime, so this only matters to tests and tools.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
