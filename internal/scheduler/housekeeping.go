package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/metrics"
)

const (
	housekeepingInterval = time.Hour

	taskRetention = 30 * 24 * time.Hour
	logRetention  = 90 * 24 * time.Hour
)

// runHousekeeping runs the hourly maintenance loop: stale breaker
// resets every pass, aggregates and purges once per UTC day. Every
// step is best-effort and independent of the others.
func (s *Scheduler) runHousekeeping(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("housekeeping loop stopping")
			return
		case <-ticker.C:
			s.housekeep(ctx, time.Now().UTC())
		}
	}
}

func (s *Scheduler) housekeep(ctx context.Context, now time.Time) {
	if n := s.breakers.ResetStale(now); n > 0 {
		s.logger.Warn("force-reset stale circuit breakers", zap.Int("count", n))
	}

	for channel, snap := range s.breakers.Snapshot() {
		metrics.SetBreakerState(string(channel), breakerStateValue(snap.State))
	}

	if err := s.limiter.Cleanup(ctx); err != nil {
		s.logger.Warn("rate limiter cleanup failed", zap.Error(err))
	}

	day := now.Truncate(24 * time.Hour)
	s.mu.Lock()
	ranToday := s.purgeDay.Equal(day)
	if !ranToday {
		s.purgeDay = day
	}
	s.mu.Unlock()
	if ranToday {
		return
	}

	stats, err := s.tasks.AggregateForDay(ctx, day.AddDate(0, 0, -1))
	if err != nil {
		s.logger.Error("failed to compute daily aggregate", zap.Error(err))
	} else {
		s.mu.Lock()
		s.lastStats = stats
		s.mu.Unlock()
		s.logger.Info("daily task aggregate",
			zap.Time("day", stats.Day),
			zap.Int64("processed", stats.Processed),
			zap.Int64("successful", stats.Successful),
			zap.Int64("failed", stats.Failed),
			zap.Int64("retried", stats.Retried),
			zap.Int64("cancelled", stats.Cancelled),
		)
	}

	if n, err := s.tasks.PurgeTerminalBefore(ctx, now.Add(-taskRetention)); err != nil {
		s.logger.Error("failed to purge old tasks", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("purged old terminal tasks", zap.Int64("count", n))
	}

	if n, err := s.retry.logs.PurgeBefore(ctx, now.Add(-logRetention)); err != nil {
		s.logger.Error("failed to purge old notification logs", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("purged old notification logs", zap.Int64("count", n))
	}
}

func breakerStateValue(state string) int {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}
