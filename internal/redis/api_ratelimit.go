package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RequestLimitConfig bounds inbound API requests per caller.
type RequestLimitConfig struct {
	Limit  int
	Window time.Duration
}

// RequestLimitResult is the outcome of one admission check.
type RequestLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RequestLimiter applies a sliding-window limit per caller key (client
// IP or API key). It shares the Redis instance with the channel
// limiter but uses its own keyspace.
type RequestLimiter struct {
	client *Client
	logger *zap.Logger
	config RequestLimitConfig
}

// NewRequestLimiter creates an inbound request limiter.
func NewRequestLimiter(client *Client, logger *zap.Logger, config RequestLimitConfig) *RequestLimiter {
	return &RequestLimiter{
		client: client,
		logger: logger,
		config: config,
	}
}

// Allow checks whether one request from the caller fits in the window,
// recording it when admitted.
func (r *RequestLimiter) Allow(ctx context.Context, key string) (*RequestLimitResult, error) {
	now := time.Now()
	windowStart := now.Add(-r.config.Window)
	redisKey := fmt.Sprintf("ratelimit:api:%s", key)

	pipe := r.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	count := int(countCmd.Val())
	result := &RequestLimitResult{
		Remaining: r.config.Limit - count,
		ResetAt:   now.Add(r.config.Window),
	}

	if count >= r.config.Limit {
		r.logger.Debug("api rate limit exceeded",
			zap.String("key", key),
			zap.Int("count", count),
			zap.Int("limit", r.config.Limit),
		)
		result.Remaining = 0
		return result, nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10)
	pipe = r.client.rdb.Pipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, redisKey, r.config.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis zadd failed: %w", err)
	}

	result.Allowed = true
	result.Remaining--
	return result, nil
}
