package repository

import (
	"context"
	"time"

	"course_messaging/pkg/logger"

	"github.com/redis/go-redis/v9"
)

type RateLimitRepository interface {
	// Increment bumps the fixed-window counter for key and returns its new value.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimitRepository(redis *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, log: log}
}

func (r *rateLimitRepository) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("Failed to increment rate limit", "key", key, "error", err)
		return 0, err
	}

	return incr.Val(), nil
}
