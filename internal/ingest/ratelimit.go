package ingest

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kaadipranav/lynex-sub000/internal/infra"
)

// Limiter answers "may this project send n more events right now". Shared
// state lives in the backing store so any number of gate instances agree.
type Limiter interface {
	// Allow returns false with an advisory retry-after when over quota.
	Allow(ctx context.Context, projectID string, n, limit int) (bool, time.Duration, error)
}

// RedisLimiter is a fixed-window counter: one INCRBY per batch against a key
// scoped to (project, window start), expiry set on first touch. Atomicity
// comes from Redis; no client-side locking.
type RedisLimiter struct {
	rdb    *redis.Client
	window time.Duration
	logger *zap.Logger
}

func NewRedisLimiter(rdb *redis.Client, window time.Duration, logger *zap.Logger) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{rdb: rdb, window: window, logger: logger.With(zap.String("mod", "ratelimit"))}
}

func (l *RedisLimiter) Allow(ctx context.Context, projectID string, n, limit int) (bool, time.Duration, error) {
	now := time.Now()
	windowStart := now.Truncate(l.window)
	key := infra.RateLimitKey(projectID, windowStart.Unix())

	count, err := l.rdb.IncrBy(ctx, key, int64(n)).Result()
	if err != nil {
		// Fail open: a Redis outage must not take ingestion down with it.
		l.logger.Warn("rate limit probe failed, allowing", zap.Error(err))
		return true, 0, nil
	}
	if count == int64(n) {
		// First touch of this window owns the expiry. The extra grace period
		// keeps the key readable for debugging just past the window edge.
		l.rdb.Expire(ctx, key, l.window+10*time.Second)
	}

	if count > int64(limit) {
		retryAfter := windowStart.Add(l.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter, nil
	}
	return true, 0, nil
}
