// Package redis implements the Redis side of the engine: the hot leaderboard
// cache, the per-cohort rebuild lock and event fan-out over pub/sub.
//
// Everything here is optional. The worker keeps running on PostgreSQL alone
// when the server cannot be reached.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	// MaxRetries follows go-redis: -1 disables retries, 0 means the default.
	MaxRetries int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration

	// LeaderboardTTL bounds how long a cached board lives without a rebuild.
	LeaderboardTTL time.Duration
}

// DefaultConfig returns settings for a local server.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           6379,
		PoolSize:       10,
		MinIdleConns:   2,
		MaxRetries:     3,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		PoolTimeout:    4 * time.Second,
		LeaderboardTTL: TTLLeaderboardCache,
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		PoolTimeout:  c.PoolTimeout,
	}
}

var (
	ErrCacheMiss          = errors.New("redis: key not found")
	ErrCacheConnection    = errors.New("redis: server unreachable")
	ErrCacheSerialization = errors.New("redis: malformed value")
)

// ══════════════════════════════════════════════════════════════════════════════
// KEYSPACE
// ══════════════════════════════════════════════════════════════════════════════

const (
	PrefixLeaderboard = "leap:leaderboard:"
	PrefixLock        = "leap:lock:"
	PrefixPubSub      = "leap:events:"

	// TTLLeaderboardCache outlives one daily cycle with margin.
	TTLLeaderboardCache = 26 * time.Hour

	// TTLDistributedLock is used when a caller passes no lock TTL.
	TTLDistributedLock = 2 * time.Minute
)

// LockKey names the lock guarding resource.
func LockKey(resource string) string { return PrefixLock + resource }

// PubSubChannel names the channel events of eventType are published on.
func PubSubChannel(eventType string) string { return PrefixPubSub + eventType }

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache owns the go-redis client shared by the leaderboard cache, the cohort
// locker and the event publisher.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache connects and verifies the server answers within DialTimeout.
func NewCache(cfg Config) (*Cache, error) {
	rdb := redis.NewClient(cfg.options())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w at %s: %v", ErrCacheConnection, cfg.Addr(), err)
	}

	ttl := cfg.LeaderboardTTL
	if ttl <= 0 {
		ttl = TTLLeaderboardCache
	}
	return &Cache{rdb: rdb, ttl: ttl}, nil
}

// Client exposes the raw client for pipelines and scripts.
func (c *Cache) Client() *redis.Client { return c.rdb }

// Close closes the client.
func (c *Cache) Close() error { return c.rdb.Close() }

// getJSON decodes the value at key into dest. A missing key is ErrCacheMiss.
func (c *Cache) getJSON(ctx context.Context, key string, dest any) error {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCacheSerialization, key, err)
	}
	return nil
}

// publishJSON encodes msg and publishes it on channel.
func (c *Cache) publishJSON(ctx context.Context, channel string, msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return c.rdb.Publish(ctx, channel, raw).Err()
}
