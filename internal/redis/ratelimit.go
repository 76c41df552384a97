package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

// ChannelLimit defines the admission budget for one delivery channel.
type ChannelLimit struct {
	Limit  int           // sends allowed per window
	Window time.Duration // rolling window duration
}

// DefaultChannelLimits mirrors the provider-side quotas each channel is
// contracted for.
func DefaultChannelLimits() map[db.DeliveryMethod]ChannelLimit {
	return map[db.DeliveryMethod]ChannelLimit{
		db.MethodSMS:      {Limit: 10, Window: time.Minute},
		db.MethodEmail:    {Limit: 100, Window: time.Minute},
		db.MethodPush:     {Limit: 500, Window: time.Minute},
		db.MethodWhatsApp: {Limit: 5, Window: time.Minute},
	}
}

// ChannelLimiter implements per-channel sliding-window admission control
// on Redis sorted sets. Because the window lives in Redis, scheduler
// instances sharing it also share the budget.
type ChannelLimiter struct {
	client *Client
	logger *zap.Logger
	limits map[db.DeliveryMethod]ChannelLimit
}

// NewChannelLimiter creates a limiter with the given per-channel limits.
// Channels absent from the map are not limited.
func NewChannelLimiter(client *Client, logger *zap.Logger, limits map[db.DeliveryMethod]ChannelLimit) *ChannelLimiter {
	if limits == nil {
		limits = DefaultChannelLimits()
	}
	return &ChannelLimiter{
		client: client,
		logger: logger,
		limits: limits,
	}
}

func channelKey(channel db.DeliveryMethod) string {
	return fmt.Sprintf("ratelimit:channel:%s", channel)
}

// Allow admits or rejects one send on the channel. On admission the
// send's timestamp joins the window; rejections record nothing, so a
// denied task can retry on the next poll without shrinking the budget.
func (l *ChannelLimiter) Allow(ctx context.Context, channel db.DeliveryMethod) (bool, error) {
	limit, ok := l.limits[channel]
	if !ok {
		return true, nil
	}

	now := time.Now()
	windowStart := now.Add(-limit.Window)
	key := channelKey(channel)

	pipe := l.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis pipeline failed: %w", err)
	}

	if int(countCmd.Val()) >= limit.Limit {
		l.logger.Debug("channel rate limit exceeded",
			zap.String("channel", string(channel)),
			zap.Int64("in_window", countCmd.Val()),
			zap.Int("limit", limit.Limit),
		)
		return false, nil
	}

	member := fmt.Sprintf("%d", now.UnixNano())
	pipe2 := l.client.rdb.Pipeline()
	pipe2.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe2.Expire(ctx, key, limit.Window+time.Second)
	if _, err := pipe2.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis zadd failed: %w", err)
	}

	return true, nil
}

// InWindow reports how many sends are currently inside the channel's
// window, for stats reporting.
func (l *ChannelLimiter) InWindow(ctx context.Context, channel db.DeliveryMethod) (int64, error) {
	limit, ok := l.limits[channel]
	if !ok {
		return 0, nil
	}
	windowStart := time.Now().Add(-limit.Window)
	n, err := l.client.rdb.ZCount(ctx, channelKey(channel),
		fmt.Sprintf("%d", windowStart.UnixNano()), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount failed: %w", err)
	}
	return n, nil
}

// Cleanup trims expired members from every channel window so idle
// channels do not accumulate stale entries between Allow calls.
func (l *ChannelLimiter) Cleanup(ctx context.Context) error {
	now := time.Now()
	for channel, limit := range l.limits {
		windowStart := now.Add(-limit.Window)
		err := l.client.rdb.ZRemRangeByScore(ctx, channelKey(channel),
			"0", fmt.Sprintf("%d", windowStart.UnixNano())).Err()
		if err != nil {
			return fmt.Errorf("trim window for %s: %w", channel, err)
		}
	}
	return nil
}
