package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"TrackVault/config"
	"TrackVault/logger"
	"TrackVault/metrics"
	"TrackVault/model"

	"github.com/go-redis/redis/v8"
)

const (
	redisKeyPrefix   = "trackvault:track:"
	redisOpTimeout   = 2 * time.Second
	redisEntryFormat = 1
)

// ConnectRedis opens a client and pings the server.
func ConnectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// redisEntry is the versioned JSON stored under each key.
type redisEntry struct {
	Format     int               `json:"format"`
	Record     model.TrackRecord `json:"record"`
	InsertedAt time.Time         `json:"insertedAt"`
	TTLSeconds float64           `json:"ttlSeconds"`
}

// RedisCache is a MetadataCache shared across restarts. Redis expiry enforces
// the TTL; any Redis error degrades to a miss so reads fall through to disk.
type RedisCache struct {
	client  *redis.Client
	hits    atomic.Int64
	misses  atomic.Int64
	metrics *metrics.Metrics
}

func NewRedisCache(client *redis.Client, m *metrics.Metrics) *RedisCache {
	return &RedisCache{client: client, metrics: m}
}

func (c *RedisCache) key(k string) string {
	return redisKeyPrefix + k
}

func (c *RedisCache) miss() (model.TrackRecord, bool) {
	c.misses.Add(1)
	c.metrics.CacheLookup("redis", false)
	return model.TrackRecord{}, false
}

func (c *RedisCache) Get(ctx context.Context, key string) (model.TrackRecord, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("redis cache read failed, treating as miss",
				logger.String("key", key),
				logger.ErrorField(err))
		}
		return c.miss()
	}

	var entry redisEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Format != redisEntryFormat {
		logger.Warn("dropping unreadable redis cache entry", logger.String("key", key))
		c.Delete(ctx, key)
		return c.miss()
	}

	ttl := time.Duration(entry.TTLSeconds * float64(time.Second))
	if time.Since(entry.InsertedAt) > ttl {
		return c.miss()
	}

	c.hits.Add(1)
	c.metrics.CacheLookup("redis", true)
	return entry.Record, true
}

func (c *RedisCache) Set(ctx context.Context, key string, record model.TrackRecord, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(redisEntry{
		Format:     redisEntryFormat,
		Record:     record,
		InsertedAt: time.Now(),
		TTLSeconds: ttl.Seconds(),
	})
	if err != nil {
		logger.Error("failed to encode cache entry", logger.String("key", key), logger.ErrorField(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		logger.Warn("redis cache write failed",
			logger.String("key", key),
			logger.ErrorField(err))
	}
}

func (c *RedisCache) Has(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	n, err := c.client.Exists(ctx, c.key(key)).Result()
	return err == nil && n > 0
}

func (c *RedisCache) Delete(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		logger.Warn("redis cache delete failed",
			logger.String("key", key),
			logger.ErrorField(err))
	}
}

func (c *RedisCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
