package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Kosisookeke/course-management/pkg/config"
	"github.com/Kosisookeke/course-management/pkg/logger"
)

const (
	keyNamespace = "cm"
	queuePrefix  = "queue"
	lockPrefix   = "lock"
)

// Client wraps the redis connection helpers needed by the platform: the
// delivery queue backend and scheduler locks.
type Client struct {
	raw *redis.Client
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// New bootstraps a Redis client with pooling/timeouts and verifies connectivity.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logg != nil {
		logg.Info(ctx, "redis connection established")
	}
	return &Client{raw: raw}, nil
}

// NewFromClient wraps an existing go-redis client (used by tests running
// against miniredis).
func NewFromClient(raw *redis.Client) *Client {
	return &Client{raw: raw}
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL == "" && cfg.Address == "" {
		return nil, errors.New("redis url or address is required")
	}
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// IsNil reports whether err is the redis "key does not exist" sentinel.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// QueueKey returns a namespaced key for queue structures.
func (c *Client) QueueKey(queue string, parts ...string) string {
	return c.buildKey(append([]string{queuePrefix, queue}, parts...)...)
}

// LockKey returns a namespaced key for scheduler locks.
func (c *Client) LockKey(name string) string {
	return c.buildKey(lockPrefix, name)
}

func (c *Client) buildKey(parts ...string) string {
	return keyNamespace + ":" + strings.Join(parts, ":")
}

// Set stores a string value with an optional TTL.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.raw.Set(ctx, key, value, ttl).Err()
}

// Get returns a string value stored at key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.raw.Get(ctx, key).Result()
}

// SetNX sets a value only if the key does not exist yet.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return c.raw.SetNX(ctx, key, value, ttl).Result()
}

// Del removes the provided keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.raw.Del(ctx, keys...).Err()
}

// RPush appends values to the list stored at key.
func (c *Client) RPush(ctx context.Context, key string, values ...any) error {
	return c.raw.RPush(ctx, key, values...).Err()
}

// LMove atomically pops the head of src and prepends it to dst, returning
// the moved element. Empty src yields a redis.Nil-wrapped error; callers
// should check IsNil.
func (c *Client) LMove(ctx context.Context, src, dst string) (string, error) {
	return c.raw.LMove(ctx, src, dst, "LEFT", "LEFT").Result()
}

// LRem removes count occurrences of value from the list stored at key.
func (c *Client) LRem(ctx context.Context, key string, count int64, value any) error {
	return c.raw.LRem(ctx, key, count, value).Err()
}

// LLen returns the length of the list stored at key.
func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	return c.raw.LLen(ctx, key).Result()
}

// ZAdd adds a member with the given score to the sorted set at key.
func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.raw.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZCard returns the cardinality of the sorted set at key.
func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	return c.raw.ZCard(ctx, key).Result()
}

// ZRangeByScoreMax returns members with score <= max.
func (c *Client) ZRangeByScoreMax(ctx context.Context, key string, max float64) ([]string, error) {
	return c.raw.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", max),
	}).Result()
}

// ZRem removes members from the sorted set at key.
func (c *Client) ZRem(ctx context.Context, key string, members ...any) error {
	return c.raw.ZRem(ctx, key, members...).Err()
}

// ZRemRangeByScoreMax removes members with score <= max and returns them.
func (c *Client) ZRemRangeByScoreMax(ctx context.Context, key string, max float64) ([]string, error) {
	members, err := c.ZRangeByScoreMax(ctx, key, max)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := c.ZRem(ctx, key, args...); err != nil {
		return nil, err
	}
	return members, nil
}

// ZTrimToNewest keeps at most keep newest members (by score) in the sorted
// set at key, returning the evicted members.
func (c *Client) ZTrimToNewest(ctx context.Context, key string, keep int64) ([]string, error) {
	total, err := c.ZCard(ctx, key)
	if err != nil {
		return nil, err
	}
	if keep < 0 || total <= keep {
		return nil, nil
	}
	evicted, err := c.raw.ZRange(ctx, key, 0, total-keep-1).Result()
	if err != nil {
		return nil, err
	}
	if err := c.raw.ZRemRangeByRank(ctx, key, 0, total-keep-1).Err(); err != nil {
		return nil, err
	}
	return evicted, nil
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.raw.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.raw.Close()
}
