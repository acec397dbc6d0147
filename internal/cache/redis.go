package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ResultCache stores analysis results in Redis keyed by a digest of the
// input, so repeated texts skip detection. Raw text never reaches Redis.
type ResultCache struct {
	client *redis.Client
	config Config
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewResultCache creates a new Redis-based result cache
func NewResultCache(config Config, logger *zap.Logger) (*ResultCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "anonymizer:"
	}

	cache := &ResultCache{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.client.Ping(ctx).Err(); err != nil {
		cache.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Result cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", opts.PoolSize),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

// Key derives the cache key of a result. Sensitivity is part of the key
// because it changes the detection set.
func (c *ResultCache) Key(kind Kind, sensitivity, text string) string {
	hasher := sha256.New()
	hasher.Write([]byte(kind))
	hasher.Write([]byte{0})
	hasher.Write([]byte(sensitivity))
	hasher.Write([]byte{0})
	hasher.Write([]byte(text))

	return fmt.Sprintf("%s%s:%s", c.config.KeyPrefix, kind, hex.EncodeToString(hasher.Sum(nil)))
}

// Get loads the result stored under key into out. A miss, a Redis failure
// and a corrupt entry all report false; the latter two are logged.
func (c *ResultCache) Get(ctx context.Context, key string, out any) bool {
	start := time.Now()

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.misses.Add(1)
		c.logger.Debug("Cache miss", zap.String("key", key))
		return false
	} else if err != nil {
		c.misses.Add(1)
		c.logger.Error("Cache lookup failed", zap.Error(err))
		return false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil || json.Unmarshal(e.Data, out) != nil {
		c.misses.Add(1)
		c.logger.Error("Failed to unmarshal cached result", zap.String("key", key))
		// Delete corrupted cache entry
		c.client.Del(ctx, key)
		return false
	}

	c.hits.Add(1)
	c.logger.Debug("Cache hit",
		zap.String("key", key),
		zap.Time("cached_at", e.CachedAt),
		zap.Duration("duration", time.Since(start)))

	return true
}

// Set stores v under key with the default TTL.
func (c *ResultCache) Set(ctx context.Context, key string, kind Kind, v any) error {
	data, err := c.marshal(kind, v)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, key, data, c.config.DefaultTTL).Err(); err != nil {
		c.logger.Error("Failed to cache result", zap.Error(err))
		return fmt.Errorf("failed to cache result: %w", err)
	}

	c.logger.Debug("Result cached successfully", zap.String("key", key), zap.String("kind", string(kind)))
	return nil
}

// SetBatch stores several results of one kind in a single pipeline.
func (c *ResultCache) SetBatch(ctx context.Context, kind Kind, results map[string]any) error {
	if len(results) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for key, v := range results {
		data, err := c.marshal(kind, v)
		if err != nil {
			c.logger.Error("Failed to marshal result for batch caching", zap.Error(err))
			continue
		}
		pipe.Set(ctx, key, data, c.config.DefaultTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Batch cache operation failed", zap.Error(err))
		return fmt.Errorf("batch cache operation failed: %w", err)
	}

	c.logger.Debug("Batch cache operation completed", zap.Int("cached_results", len(results)))
	return nil
}

func (c *ResultCache) marshal(kind Kind, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result for caching: %w", err)
	}

	data, err := json.Marshal(entry{
		Kind:     kind,
		CachedAt: time.Now(),
		TTL:      int64(c.config.DefaultTTL.Seconds()),
		Data:     payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return data, nil
}

// GetStats returns cache performance statistics
func (c *ResultCache) GetStats(ctx context.Context) (*Stats, error) {
	info, err := c.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := c.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes every key under the cache prefix
func (c *ResultCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+"*", 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := c.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			c.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	c.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (c *ResultCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}

	// scheme://user:password has two colons before the host
	userPart := url[:at]
	if strings.Count(userPart, ":") < 2 {
		return url
	}
	colon := strings.LastIndex(userPart, ":")
	return userPart[:colon+1] + "***" + url[at:]
}
