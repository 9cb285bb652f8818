package holiday

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"agenda/internal/log"
	"agenda/internal/model"
)

const redisKeyPrefix = "agenda:holidays:"

// Cache stores fetched holiday lists per year.
type Cache interface {
	Get(ctx context.Context, year int) ([]model.Holiday, bool, error)
	Set(ctx context.Context, year int, hs []model.Holiday) error
}

// RedisCache shares holiday lists between processes.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache parses url and pings the server.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("holiday: parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("holiday: ping redis: %w", err)
	}
	return NewRedisCacheClient(rdb, ttl), nil
}

// NewRedisCacheClient wraps an existing client.
func NewRedisCacheClient(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) key(year int) string {
	return redisKeyPrefix + strconv.Itoa(year)
}

func (c *RedisCache) Get(ctx context.Context, year int) ([]model.Holiday, bool, error) {
	data, err := c.rdb.Get(ctx, c.key(year)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var hs []model.Holiday
	if err := json.Unmarshal(data, &hs); err != nil {
		return nil, false, err
	}
	return hs, true, nil
}

func (c *RedisCache) Set(ctx context.Context, year int, hs []model.Holiday) error {
	if hs == nil {
		hs = []model.Holiday{}
	}
	data, err := json.Marshal(hs)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(year), data, c.ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// CachedSource consults cache before src and fills it on success. Cache
// errors are logged and bypassed.
type CachedSource struct {
	Cache  Cache
	Source Source
}

func (s CachedSource) Fetch(ctx context.Context, year int) ([]model.Holiday, error) {
	hs, ok, err := s.Cache.Get(ctx, year)
	if err != nil {
		log.Warn("holiday cache get failed", "year", year, "err", err)
	}
	if ok {
		return hs, nil
	}

	hs, err = s.Source.Fetch(ctx, year)
	if err != nil {
		return nil, err
	}
	if err := s.Cache.Set(ctx, year, hs); err != nil {
		log.Warn("holiday cache set failed", "year", year, "err", err)
	}
	return hs, nil
}
