// Package cache provides a Redis read-through cache for popular queries.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/searchlog/internal/history"
	"github.com/thebtf/searchlog/pkg/models"
)

const (
	// DefaultTTL bounds how stale a cached ranking may get without a write.
	DefaultTTL = 30 * time.Second

	// DefaultKeyPrefix namespaces every key this cache touches.
	DefaultKeyPrefix = "searchlog"
)

// Config holds Redis connection settings.
type Config struct {
	Addr      string        // host:port
	Password  string        // AUTH password, empty for none
	KeyPrefix string        // Key namespace (default: "searchlog")
	DB        int           // SELECT index
	TTL       time.Duration // Entry lifetime (default: 30s)
	MaxIdle   int           // Idle pool connections (default: 4)
}

// RedisCache stores popularity rankings in one Redis hash keyed by limit.
// Invalidation drops the whole hash.
type RedisCache struct {
	pool *redis.Pool
	key  string
	ttl  time.Duration
}

var _ history.PopularCache = (*RedisCache)(nil)

// NewRedisCache creates a cache with its own connection pool.
func NewRedisCache(cfg Config) *RedisCache {
	maxIdle := cfg.MaxIdle
	if maxIdle <= 0 {
		maxIdle = 4
	}
	pool := &redis.Pool{
		MaxIdle:     maxIdle,
		IdleTimeout: 5 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", cfg.Addr,
				redis.DialPassword(cfg.Password),
				redis.DialDatabase(cfg.DB),
				redis.DialConnectTimeout(2*time.Second),
				redis.DialReadTimeout(time.Second),
				redis.DialWriteTimeout(time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return NewWithPool(pool, cfg.KeyPrefix, cfg.TTL)
}

// NewWithPool creates a cache over an existing pool.
func NewWithPool(pool *redis.Pool, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		pool: pool,
		key:  prefix + ":popular",
		ttl:  ttl,
	}
}

// GetPopular returns the cached ranking for limit. Any Redis error is a miss.
func (c *RedisCache) GetPopular(ctx context.Context, limit int) ([]models.PopularQuery, bool) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, popular cache miss")
		return nil, false
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("HGET", c.key, strconv.Itoa(limit)))
	if errors.Is(err, redis.ErrNil) {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Int("limit", limit).Msg("Popular cache read failed")
		return nil, false
	}

	var queries []models.PopularQuery
	if err := json.Unmarshal(data, &queries); err != nil {
		log.Warn().Err(err).Int("limit", limit).Msg("Corrupt popular cache entry")
		return nil, false
	}
	return queries, true
}

// SetPopular stores queries for limit and refreshes the hash TTL.
func (c *RedisCache) SetPopular(ctx context.Context, limit int, queries []models.PopularQuery) {
	data, err := json.Marshal(queries)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal popular queries")
		return
	}

	if err := c.do(ctx, func(conn redis.Conn) error {
		if _, err := conn.Do("HSET", c.key, strconv.Itoa(limit), data); err != nil {
			return err
		}
		_, err := conn.Do("PEXPIRE", c.key, c.ttl.Milliseconds())
		return err
	}); err != nil {
		log.Warn().Err(err).Int("limit", limit).Msg("Popular cache write failed")
	}
}

// InvalidatePopular drops every cached ranking.
func (c *RedisCache) InvalidatePopular(ctx context.Context) {
	if err := c.do(ctx, func(conn redis.Conn) error {
		_, err := conn.Do("DEL", c.key)
		return err
	}); err != nil {
		log.Warn().Err(err).Msg("Popular cache invalidation failed")
	}
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.do(ctx, func(conn redis.Conn) error {
		reply, err := redis.String(conn.Do("PING"))
		if err != nil {
			return err
		}
		if reply != "PONG" {
			return fmt.Errorf("unexpected PING reply %q", reply)
		}
		return nil
	})
}

// Close releases the pool.
func (c *RedisCache) Close() error {
	return c.pool.Close()
}

func (c *RedisCache) do(ctx context.Context, fn func(redis.Conn) error) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}
