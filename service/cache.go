package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"opspulse/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const snapshotCacheName = "overview"

// RedisSnapshotCache stores assembled overview payloads in Redis for a short
// TTL, keyed per scope. All failures are swallowed after a metric and a log
// line; a broken Redis degrades to recomputation on every request.
type RedisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewRedisSnapshotCache creates a snapshot cache backed by the given client
func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) *RedisSnapshotCache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &RedisSnapshotCache{client: client, ttl: ttl, logger: logger}
}

func snapshotKey(mode ScopeMode, includeNonProductive bool) string {
	return "opspulse:overview:" + string(mode) + ":" + strconv.FormatBool(includeNonProductive)
}

// Get returns a cached payload for the scope, or false on miss or error.
func (c *RedisSnapshotCache) Get(ctx context.Context, mode ScopeMode, includeNonProductive bool) (*AggregatedPayload, bool) {
	key := snapshotKey(mode, includeNonProductive)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheMisses.WithLabelValues(snapshotCacheName).Inc()
		} else {
			metrics.CacheErrors.WithLabelValues(snapshotCacheName, "get").Inc()
			c.logger.Warnw("Snapshot cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	var payload AggregatedPayload
	if err := msgpack.Unmarshal(raw, &payload); err != nil {
		// Stale or incompatible encoding; drop it and recompute.
		metrics.CacheErrors.WithLabelValues(snapshotCacheName, "decode").Inc()
		c.logger.Warnw("Snapshot cache entry undecodable, evicting", "key", key, "error", err)
		c.client.Del(ctx, key)
		return nil, false
	}
	metrics.CacheHits.WithLabelValues(snapshotCacheName).Inc()
	return &payload, true
}

// Set stores a payload for the scope. Errors are logged, never returned.
func (c *RedisSnapshotCache) Set(ctx context.Context, mode ScopeMode, includeNonProductive bool, payload *AggregatedPayload) {
	key := snapshotKey(mode, includeNonProductive)
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		metrics.CacheErrors.WithLabelValues(snapshotCacheName, "encode").Inc()
		c.logger.Warnw("Snapshot cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues(snapshotCacheName, "set").Inc()
		c.logger.Warnw("Snapshot cache write failed", "key", key, "error", err)
	}
}
