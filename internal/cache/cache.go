package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ytdlpvpn/ytdlp-vpn/internal/logger"
)

const infoKeyPrefix = "ytdlp-vpn:info:"

type Cache struct {
	client *redis.Client
	log    *logger.Logger
}

// New connects to the Redis server at redisURL and verifies it answers
func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	c := &Cache{client: client, log: logger.Default().WithComponent("cache")}
	c.log.Info(ctx, "connected to redis", map[string]interface{}{"addr": opts.Addr})
	return c, nil
}

// Client exposes the underlying connection for the event publisher and
// health checks
func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		c.log.Debug(ctx, "cache miss", map[string]interface{}{"key": key})
		return "", false
	}
	if err != nil {
		c.log.Warn(ctx, "cache get failed", map[string]interface{}{"key": key, "error": err.Error()})
		return "", false
	}
	c.log.Debug(ctx, "cache hit", map[string]interface{}{"key": key})
	return val, true
}

func (c *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Warn(ctx, "cache set failed", map[string]interface{}{"key": key, "error": err.Error()})
		return err
	}
	c.log.Debug(ctx, "cache set", map[string]interface{}{"key": key, "ttl": ttl.String()})
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// InfoStore caches video metadata by source URL
type InfoStore[T any] struct {
	cache *Cache
	ttl   time.Duration
}

// NewInfoStore wraps c for values of type T stored as JSON
func NewInfoStore[T any](c *Cache, ttl time.Duration) *InfoStore[T] {
	return &InfoStore[T]{cache: c, ttl: ttl}
}

func (s *InfoStore[T]) Get(ctx context.Context, url string) (*T, bool) {
	raw, ok := s.cache.Get(ctx, infoKeyPrefix+url)
	if !ok {
		return nil, false
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		s.cache.log.Warn(ctx, "discarding undecodable cache entry", map[string]interface{}{"url": url})
		return nil, false
	}
	return &v, true
}

func (s *InfoStore[T]) Set(ctx context.Context, url string, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return s.cache.Set(ctx, infoKeyPrefix+url, string(data), s.ttl)
}

func (s *InfoStore[T]) Delete(ctx context.Context, url string) error {
	return s.cache.Delete(ctx, infoKeyPrefix+url)
}
