// Package hotcache keeps the cost records of open periods in Redis.
//
// Each (user, period) is one key, {prefix}{user}:{period}, holding the JSON
// array of its records. Entries expire after the configured TTL.
package hotcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zgpcy/oci-cost-sync/internal/provider"
)

// DefaultTTL applies when Config.TTL is unset
const DefaultTTL = time.Hour

// scanCount is the COUNT hint of each SCAN round trip
const scanCount = 100

// RedisClient is the subset of go-redis used by Cache
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Close() error
}

// Config locates the Redis instance
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Cache stores open-period cost records
type Cache struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection with PING
func New(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: ping failed: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client RedisClient, cfg Config) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, prefix: cfg.Prefix, ttl: ttl}
}

// Key returns the Redis key of (user, period)
func (c *Cache) Key(user string, period provider.Period) string {
	return c.prefix + user + ":" + string(period)
}

// Get returns the cached records. ok is false when nothing is cached.
func (c *Cache) Get(ctx context.Context, user string, period provider.Period) (records []provider.CostRecord, ok bool, err error) {
	raw, err := c.client.Get(ctx, c.Key(user, period)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", c.Key(user, period), err)
	}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", c.Key(user, period), err)
	}
	return records, true, nil
}

// Put replaces the cached records of (user, period) and resets the TTL.
// An empty slice is cached too, so a period without usage is not refetched.
func (c *Cache) Put(ctx context.Context, user string, period provider.Period, records []provider.CostRecord) error {
	if records == nil {
		records = []provider.CostRecord{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.Key(user, period), err)
	}
	if err := c.client.Set(ctx, c.Key(user, period), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.Key(user, period), err)
	}
	return nil
}

// Evict drops the cached records of (user, period). Evicting a missing key is not an error.
func (c *Cache) Evict(ctx context.Context, user string, period provider.Period) error {
	if err := c.client.Del(ctx, c.Key(user, period)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", c.Key(user, period), err)
	}
	return nil
}

// Exists reports whether (user, period) is cached
func (c *Cache) Exists(ctx context.Context, user string, period provider.Period) (bool, error) {
	n, err := c.client.Exists(ctx, c.Key(user, period)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", c.Key(user, period), err)
	}
	return n > 0, nil
}

// Users returns the users with a cached entry for period, sorted
func (c *Cache) Users(ctx context.Context, period provider.Period) ([]string, error) {
	suffix := ":" + string(period)
	match := c.prefix + "*" + suffix

	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", match, err)
		}
		for _, k := range keys {
			user := strings.TrimSuffix(strings.TrimPrefix(k, c.prefix), suffix)
			if user != "" {
				seen[user] = struct{}{}
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// Periods returns every period with at least one cached entry, oldest first.
// Keys whose suffix is not a period are ignored.
func (c *Cache) Periods(ctx context.Context) ([]provider.Period, error) {
	match := c.prefix + "*"

	seen := make(map[provider.Period]struct{})
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", match, err)
		}
		for _, k := range keys {
			i := strings.LastIndex(k, ":")
			if i < len(c.prefix) {
				continue
			}
			if p, err := provider.ParsePeriod(k[i+1:]); err == nil {
				seen[p] = struct{}{}
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	periods := make([]provider.Period, 0, len(seen))
	for p := range seen {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })
	return periods, nil
}

// Ping verifies Redis is reachable
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client
func (c *Cache) Close() error {
	return c.client.Close()
}
