package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/chainlens/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps Redis as an optional shared response cache, so multiple
// service replicas reuse each other's expensive graph builds. Everything here
// is best-effort: an unavailable Redis degrades to in-process caching only.
type Client struct {
	client *redis.Client
	logger *zap.Logger
}

// NewClient creates a Redis client from environment configuration:
//   - REDIS_HOST (default "localhost")
//   - REDIS_PORT (default "6379")
//   - REDIS_PASSWORD (default "")
//   - REDIS_DB (default 0)
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis", zap.String("addr", addr), zap.Int("db", db))
	return &Client{client: rdb, logger: logger}, nil
}

// GetJSON loads and decodes key into out, reporting whether it was present.
func (c *Client) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores v under key with a TTL. Best-effort: failures are logged,
// not returned.
func (c *Client) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("Failed to encode Redis cache value", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn("Failed to write Redis cache value", zap.String("key", key), zap.Error(err))
	}
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
